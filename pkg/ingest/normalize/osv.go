package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/package-url/packageurl-go"
	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/ecosystem"
	"github.com/crsche/trustify/pkg/model"
)

type osvPackage struct {
	Ecosystem string `json:"ecosystem,omitempty"`
	Name      string `json:"name,omitempty"`
	Purl      string `json:"purl,omitempty"`
}

type osvEvent struct {
	Introduced   string `json:"introduced,omitempty"`
	Fixed        string `json:"fixed,omitempty"`
	LastAffected string `json:"last_affected,omitempty"`
	Limit        string `json:"limit,omitempty"`
}

type osvRange struct {
	Type   string     `json:"type,omitempty"`
	Repo   string     `json:"repo,omitempty"`
	Events []osvEvent `json:"events,omitempty"`
}

type osvAffected struct {
	Package  osvPackage    `json:"package,omitempty"`
	Ranges   []osvRange    `json:"ranges,omitempty"`
	Versions []string      `json:"versions,omitempty"`
	Severity []osvSeverity `json:"severity,omitempty"`
}

type osvSeverity struct {
	Type  string `json:"type,omitempty"`
	Score string `json:"score,omitempty"`
}

type osvAdvisory struct {
	ID        string        `json:"id,omitempty"`
	Modified  string        `json:"modified,omitempty"`
	Published string        `json:"published,omitempty"`
	Withdrawn string        `json:"withdrawn,omitempty"`
	Aliases   []string      `json:"aliases,omitempty"`
	Summary   string        `json:"summary,omitempty"`
	Details   string        `json:"details,omitempty"`
	Severity  []osvSeverity `json:"severity,omitempty"`
	Affected  []osvAffected `json:"affected,omitempty"`
}

func normalizeOSV(raw []byte, prov model.Provenance) (*model.Batch, error) {
	var adv osvAdvisory
	if err := json.Unmarshal(raw, &adv); err != nil {
		return nil, &model.MalformedDocumentError{Reason: errors.Wrap(err, "decode osv advisory").Error()}
	}
	if adv.ID == "" {
		return nil, &model.MalformedDocumentError{Reason: "osv advisory has no id"}
	}

	v := model.Vulnerability{
		ID:          adv.ID,
		Summary:     adv.Summary,
		Description: adv.Details,
		Aliases:     adv.Aliases,
		Published:   parseOSVTime(adv.Published),
		Modified:    parseOSVTime(adv.Modified),
		Withdrawn:   parseOSVTime(adv.Withdrawn),
	}
	prov.DocModified = v.Modified

	for _, s := range adv.Severity {
		sev, err := parseSeverity(s.Score)
		if err != nil {
			continue
		}
		v.Severity = sev
		break
	}

	b := newBatchBuilder(prov)
	b.batch.Vulnerabilities = append(b.batch.Vulnerabilities, v)

	for _, aff := range adv.Affected {
		// Entries without a resolvable package identity cannot produce a
		// statement, but the advisory itself is still usable.
		p, err := osvPURL(aff.Package)
		if err != nil {
			continue
		}
		base := p.Base()
		scheme := ecosystem.SchemeFor(p.Type)

		for _, r := range aff.Ranges {
			if r.Type == "GIT" {
				continue
			}
			for _, vr := range osvEventRanges(scheme, r.Events) {
				b.batch.Statements = append(b.batch.Statements, model.Statement{
					VulnerabilityID: adv.ID,
					PackageBase:     base,
					Range:           vr,
					Assertions:      []model.Assertion{{Status: model.StatusAffected, Provenance: prov}},
				})
			}
		}

		if len(aff.Versions) > 0 {
			b.batch.Statements = append(b.batch.Statements, model.Statement{
				VulnerabilityID: adv.ID,
				PackageBase:     base,
				Range:           model.VersionRange{Scheme: scheme, Versions: aff.Versions},
				Assertions:      []model.Assertion{{Status: model.StatusAffected, Provenance: prov}},
			})
		}
	}

	return b.batch, nil
}

// osvEventRanges pairs introduced events with the fixed or last_affected
// event that closes them. An unclosed introduced event stays open-ended.
func osvEventRanges(scheme string, events []osvEvent) []model.VersionRange {
	var (
		out  []model.VersionRange
		cur  *model.VersionRange
		push = func() {
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
		}
	)
	for _, e := range events {
		switch {
		case e.Introduced != "":
			push()
			cur = &model.VersionRange{Scheme: scheme, Introduced: e.Introduced}
		case e.Fixed != "" && cur != nil:
			cur.Fixed = e.Fixed
			push()
		case e.LastAffected != "" && cur != nil:
			cur.LastAffected = e.LastAffected
			push()
		}
	}
	push()
	return out
}

var osvEcosystemTypes = map[string]string{
	"npm":       packageurl.TypeNPM,
	"pypi":      packageurl.TypePyPi,
	"rubygems":  packageurl.TypeGem,
	"maven":     packageurl.TypeMaven,
	"go":        packageurl.TypeGolang,
	"crates.io": packageurl.TypeCargo,
	"packagist": packageurl.TypeComposer,
	"nuget":     packageurl.TypeNuget,
	"hex":       packageurl.TypeHex,
	"debian":    packageurl.TypeDebian,
	"alpine":    packageurl.TypeApk,
}

func osvPURL(p osvPackage) (model.PURL, error) {
	if p.Purl != "" {
		parsed, err := model.ParsePURL(p.Purl)
		if err != nil {
			return model.PURL{}, errors.Wrapf(err, "affected package %q has invalid purl", p.Name)
		}
		return parsed, nil
	}
	if p.Name == "" {
		return model.PURL{}, errors.New("affected package has neither purl nor name")
	}

	// Ecosystem suffixes like "Alpine:v3.16" scope the ecosystem; the base
	// ecosystem name is before the colon.
	eco, _, _ := strings.Cut(p.Ecosystem, ":")
	typ, ok := osvEcosystemTypes[strings.ToLower(eco)]
	if !ok {
		return model.SynthesizePURL(p.Name, "")
	}

	var namespace, name string
	switch typ {
	case packageurl.TypeMaven:
		group, artifact, ok := strings.Cut(p.Name, ":")
		if !ok {
			return model.PURL{}, errors.Errorf("maven package %q is not group:artifact", p.Name)
		}
		namespace, name = group, artifact
	case packageurl.TypeGolang, packageurl.TypeNPM, packageurl.TypeDebian:
		if i := strings.LastIndex(p.Name, "/"); i >= 0 {
			namespace, name = p.Name[:i], p.Name[i+1:]
		} else {
			name = p.Name
		}
	default:
		name = p.Name
	}

	return model.ParsePURL(packageurl.NewPackageURL(typ, namespace, name, "", nil, "").ToString())
}

func parseOSVTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &ts
}
