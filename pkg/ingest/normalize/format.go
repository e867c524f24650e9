package normalize

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/model"
)

type Format string

const (
	FormatCycloneDX Format = "cyclonedx"
	FormatSPDX      Format = "spdx"
	FormatOSV       Format = "osv"
	FormatOpenVEX   Format = "openvex"
)

func (f Format) Family() model.SourceFamily {
	switch f {
	case FormatCycloneDX, FormatSPDX:
		return model.FamilySBOM
	default:
		return model.FamilyAdvisory
	}
}

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCycloneDX, FormatSPDX, FormatOSV, FormatOpenVEX:
		return Format(s), nil
	default:
		return "", errors.Errorf("%s is not support format", s)
	}
}

// DetectFormat sniffs the document format from its distinguishing top-level
// fields. Used when the caller gives no format hint.
func DetectFormat(raw []byte) (Format, error) {
	var probe struct {
		BOMFormat   string `json:"bomFormat"`
		SPDXVersion string `json:"spdxVersion"`
		Context     string `json:"@context"`
		ID          string `json:"id"`
		Affected    []any  `json:"affected"`
		Statements  []any  `json:"statements"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", &model.MalformedDocumentError{Reason: "document is not valid JSON"}
	}

	switch {
	case probe.BOMFormat == "CycloneDX":
		return FormatCycloneDX, nil
	case probe.SPDXVersion != "":
		return FormatSPDX, nil
	case probe.Context != "" || len(probe.Statements) > 0:
		return FormatOpenVEX, nil
	case probe.ID != "" && probe.Affected != nil:
		return FormatOSV, nil
	default:
		return "", &model.MalformedDocumentError{Reason: "unrecognized document format"}
	}
}
