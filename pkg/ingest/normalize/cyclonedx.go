package normalize

import (
	"bytes"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/model"
)

func normalizeCycloneDX(raw []byte, prov model.Provenance) (*model.Batch, error) {
	var bom cdx.BOM
	if err := cdx.NewBOMDecoder(bytes.NewReader(raw), cdx.BOMFileFormatJSON).Decode(&bom); err != nil {
		return nil, &model.MalformedDocumentError{Reason: errors.Wrap(err, "decode cyclonedx bom").Error()}
	}
	if bom.BOMFormat != "" && bom.BOMFormat != "CycloneDX" {
		return nil, &model.MalformedDocumentError{Reason: "bomFormat is not CycloneDX"}
	}

	if bom.Metadata != nil && bom.Metadata.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, bom.Metadata.Timestamp); err == nil {
			prov.DocModified = &ts
		}
	}

	b := newBatchBuilder(prov)

	// bom-ref -> canonical identity, for resolving the dependency graph.
	refs := map[string]string{}

	var add func(c cdx.Component) (string, error)
	add = func(c cdx.Component) (string, error) {
		p, err := componentPURL(c)
		if err != nil {
			return "", err
		}
		pkg := p.Package()
		pkg.DeclaredName = c.Name
		pkg.DeclaredVersion = c.Version
		if c.CPE != "" {
			if cpe, ok := canonicalCPE(c.CPE); ok {
				pkg.CPEs = []string{cpe}
			}
		}
		if err := b.addPackage(pkg); err != nil {
			return "", err
		}
		if c.BOMRef != "" {
			refs[c.BOMRef] = pkg.Identity
		}

		// Nested components are parts of their parent.
		if c.Components != nil {
			for _, child := range *c.Components {
				childIdentity, err := add(child)
				if err != nil {
					return "", err
				}
				b.addEdge(model.Edge{From: pkg.Identity, To: childIdentity, Kind: model.KindContains})
			}
		}

		return pkg.Identity, nil
	}

	if bom.Metadata != nil && bom.Metadata.Component != nil {
		identity, err := add(*bom.Metadata.Component)
		if err != nil {
			return nil, err
		}
		b.addRoot(identity)
	}

	if bom.Components != nil {
		for _, c := range *bom.Components {
			if _, err := add(c); err != nil {
				return nil, err
			}
		}
	}

	if bom.Dependencies != nil {
		for _, d := range *bom.Dependencies {
			if d.Dependencies == nil {
				continue
			}
			from := refs[d.Ref]
			for _, dep := range *d.Dependencies {
				b.addEdge(model.Edge{From: from, To: refs[dep], Kind: model.KindDependsOn})
			}
		}
	}

	return b.batch, nil
}

func componentPURL(c cdx.Component) (model.PURL, error) {
	if c.PackageURL != "" {
		p, err := model.ParsePURL(c.PackageURL)
		if err != nil {
			return model.PURL{}, &model.MalformedDocumentError{Reason: errors.Wrapf(err, "component %q has invalid purl", c.Name).Error()}
		}
		return p, nil
	}

	p, err := model.SynthesizePURL(c.Name, c.Version)
	if err != nil {
		return model.PURL{}, &model.MalformedDocumentError{Reason: errors.Wrap(err, "component without purl").Error()}
	}
	return p, nil
}
