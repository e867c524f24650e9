package model

import (
	"fmt"
	"slices"
	"strings"
)

// VersionRange narrows a statement to the package versions it talks about,
// either as an introduced/fixed bound pair (OSV event semantics: introduced
// is inclusive, fixed exclusive, last-affected inclusive) or as an explicit
// version enumeration. Scheme names the comparison rules of the package's
// ecosystem; matching never falls back to lexical comparison.
type VersionRange struct {
	Scheme string `json:"scheme"`

	Introduced   string `json:"introduced,omitempty"`
	Fixed        string `json:"fixed,omitempty"`
	LastAffected string `json:"last_affected,omitempty"`

	Versions []string `json:"versions,omitempty"`
}

// Universal matches every version of the package.
func Universal(scheme string) VersionRange {
	return VersionRange{Scheme: scheme}
}

// Exact matches a single version.
func Exact(scheme, version string) VersionRange {
	return VersionRange{Scheme: scheme, Versions: []string{version}}
}

func (r VersionRange) IsEnumeration() bool {
	return len(r.Versions) > 0
}

// Key is the deterministic encoding used in statement identity. Enumerations
// are order-insensitive: the statement key must not depend on how the source
// happened to list versions.
func (r VersionRange) Key() string {
	if r.IsEnumeration() {
		vs := make([]string, len(r.Versions))
		copy(vs, r.Versions)
		slices.Sort(vs)
		return fmt.Sprintf("%s:v[%s]", r.Scheme, strings.Join(vs, ","))
	}
	return fmt.Sprintf("%s:i[%s]f[%s]l[%s]", r.Scheme, r.Introduced, r.Fixed, r.LastAffected)
}
