package normalize

import (
	"encoding/json"

	"github.com/openvex/go-vex/pkg/vex"
	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/ecosystem"
	"github.com/crsche/trustify/pkg/model"
)

func normalizeOpenVEX(raw []byte, prov model.Provenance) (*model.Batch, error) {
	var doc vex.VEX
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &model.MalformedDocumentError{Reason: errors.Wrap(err, "decode openvex document").Error()}
	}
	if len(doc.Statements) == 0 {
		return nil, &model.MalformedDocumentError{Reason: "openvex document has no statements"}
	}

	switch {
	case doc.LastUpdated != nil:
		prov.DocModified = doc.LastUpdated
	case doc.Timestamp != nil:
		prov.DocModified = doc.Timestamp
	}

	b := newBatchBuilder(prov)

	usable := 0
	for _, st := range doc.Statements {
		// A statement that cannot be interpreted does not poison the rest
		// of the document.
		vulnID := string(st.Vulnerability.Name)
		if vulnID == "" {
			vulnID = st.Vulnerability.ID
		}
		if vulnID == "" {
			continue
		}

		status, err := vexStatus(st.Status)
		if err != nil {
			continue
		}
		usable++

		aliases := make([]string, 0, len(st.Vulnerability.Aliases))
		for _, a := range st.Vulnerability.Aliases {
			aliases = append(aliases, string(a))
		}
		b.batch.Vulnerabilities = append(b.batch.Vulnerabilities, model.Vulnerability{
			ID:          vulnID,
			Description: st.Vulnerability.Description,
			Aliases:     aliases,
		})

		for _, product := range st.Products {
			p, err := productPURL(product)
			if err != nil {
				continue
			}

			scheme := ecosystem.SchemeFor(p.Type)
			rng := model.Universal(scheme)
			if p.Version != "" {
				rng = model.Exact(scheme, p.Version)
			}

			b.batch.Statements = append(b.batch.Statements, model.Statement{
				VulnerabilityID: vulnID,
				PackageBase:     p.Base(),
				Range:           rng,
				Assertions: []model.Assertion{{
					Status:        status,
					Justification: string(st.Justification),
					Provenance:    prov,
				}},
			})
		}
	}
	if usable == 0 {
		return nil, &model.MalformedDocumentError{Reason: "openvex document has no usable statements"}
	}

	return b.batch, nil
}

func vexStatus(s vex.Status) (model.StatementStatus, error) {
	switch s {
	case vex.StatusAffected:
		return model.StatusAffected, nil
	case vex.StatusFixed:
		return model.StatusFixed, nil
	case vex.StatusNotAffected:
		return model.StatusNotAffected, nil
	case vex.StatusUnderInvestigation:
		return model.StatusUnderInvestigation, nil
	default:
		return "", errors.Errorf("unknown vex status %q", s)
	}
}

func productPURL(p vex.Product) (model.PURL, error) {
	raw := p.Identifiers[vex.PURL]
	if raw == "" {
		raw = p.ID
	}
	if raw == "" {
		return model.PURL{}, errors.New("openvex product has no identifier")
	}

	parsed, err := model.ParsePURL(raw)
	if err != nil {
		return model.PURL{}, errors.Wrapf(err, "product %q is not a purl", raw)
	}
	return parsed, nil
}
