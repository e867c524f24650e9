package normalize

import (
	"bytes"
	"time"

	spdxjson "github.com/spdx/tools-golang/json"
	"github.com/spdx/tools-golang/spdx"
	"github.com/spdx/tools-golang/spdx/v2/common"

	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/model"
)

func normalizeSPDX(raw []byte, prov model.Provenance) (*model.Batch, error) {
	doc, err := spdxjson.Read(bytes.NewReader(raw))
	if err != nil {
		return nil, &model.MalformedDocumentError{Reason: errors.Wrap(err, "decode spdx document").Error()}
	}

	if doc.CreationInfo != nil && doc.CreationInfo.Created != "" {
		if ts, err := time.Parse(time.RFC3339, doc.CreationInfo.Created); err == nil {
			prov.DocModified = &ts
		}
	}

	b := newBatchBuilder(prov)

	// SPDX element id -> canonical identity.
	ids := map[common.ElementID]string{}

	for _, p := range doc.Packages {
		if p == nil {
			continue
		}
		pkg, err := spdxPackage(p)
		if err != nil {
			return nil, err
		}
		if err := b.addPackage(pkg); err != nil {
			return nil, err
		}
		ids[p.PackageSPDXIdentifier] = pkg.Identity
	}

	for _, rel := range doc.Relationships {
		if rel == nil {
			continue
		}
		from := ids[rel.RefA.ElementRefID]
		to := ids[rel.RefB.ElementRefID]

		switch rel.Relationship {
		case "DESCRIBES":
			b.addRoot(to)
		case "DESCRIBED_BY":
			b.addRoot(from)
		case "DEPENDS_ON":
			b.addEdge(model.Edge{From: from, To: to, Kind: model.KindDependsOn})
		case "DEPENDENCY_OF":
			b.addEdge(model.Edge{From: to, To: from, Kind: model.KindDependsOn})
		case "CONTAINS":
			b.addEdge(model.Edge{From: from, To: to, Kind: model.KindContains})
		case "CONTAINED_BY":
			b.addEdge(model.Edge{From: to, To: from, Kind: model.KindContains})
		}
	}

	return b.batch, nil
}

func spdxPackage(p *spdx.Package) (model.Package, error) {
	var purl string
	var cpes []string
	for _, ref := range p.PackageExternalReferences {
		if ref == nil {
			continue
		}
		switch ref.RefType {
		case "purl":
			if purl == "" {
				purl = ref.Locator
			}
		case "cpe23Type", "cpe22Type":
			if c, ok := canonicalCPE(ref.Locator); ok {
				cpes = append(cpes, c)
			}
		}
	}

	var (
		parsed model.PURL
		err    error
	)
	if purl != "" {
		parsed, err = model.ParsePURL(purl)
		if err != nil {
			return model.Package{}, &model.MalformedDocumentError{Reason: errors.Wrapf(err, "package %q has invalid purl", p.PackageName).Error()}
		}
	} else {
		parsed, err = model.SynthesizePURL(p.PackageName, p.PackageVersion)
		if err != nil {
			return model.Package{}, &model.MalformedDocumentError{Reason: errors.Wrap(err, "package without purl").Error()}
		}
	}

	pkg := parsed.Package()
	pkg.DeclaredName = p.PackageName
	pkg.DeclaredVersion = p.PackageVersion
	pkg.CPEs = cpes
	return pkg, nil
}
