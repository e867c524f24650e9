package normalize

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/model"
)

// Normalize turns one raw document into the canonical batch for the merge
// engine. The returned batch carries the document provenance with Format,
// Family and DocModified filled in; packages are canonical and deduplicated
// within the batch.
func Normalize(format Format, raw []byte, prov model.Provenance) (*model.Batch, error) {
	prov.Format = string(format)
	prov.Family = format.Family()

	switch format {
	case FormatCycloneDX:
		return normalizeCycloneDX(raw, prov)
	case FormatSPDX:
		return normalizeSPDX(raw, prov)
	case FormatOSV:
		return normalizeOSV(raw, prov)
	case FormatOpenVEX:
		return normalizeOpenVEX(raw, prov)
	default:
		return nil, errors.Errorf("%s is not support format", format)
	}
}

// batchBuilder collapses duplicate identities inside a single document. The
// first occurrence wins for declared attributes; later ones only add CPEs.
// Two components that canonicalize to the same identity but declare
// genuinely different packages make the whole document ambiguous.
type batchBuilder struct {
	batch *model.Batch
	seen  map[string]int
	edges map[model.Edge]bool
}

func newBatchBuilder(prov model.Provenance) *batchBuilder {
	return &batchBuilder{
		batch: &model.Batch{Provenance: prov},
		seen:  map[string]int{},
		edges: map[model.Edge]bool{},
	}
}

func (b *batchBuilder) addPackage(p model.Package) error {
	if i, ok := b.seen[p.Identity]; ok {
		existing := &b.batch.Packages[i]
		if !equivalentDeclaration(existing.DeclaredName, p.DeclaredName) {
			return &model.IdentityAmbiguousError{Identity: p.Identity, A: existing.DeclaredName, B: p.DeclaredName}
		}
		for _, cpe := range p.CPEs {
			if !contains(existing.CPEs, cpe) {
				existing.CPEs = append(existing.CPEs, cpe)
			}
		}
		return nil
	}
	b.seen[p.Identity] = len(b.batch.Packages)
	b.batch.Packages = append(b.batch.Packages, p)
	return nil
}

// equivalentDeclaration treats declared names as the same package when they
// differ only by the folding canonicalization already applies.
func equivalentDeclaration(a, b string) bool {
	fold := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "_", "-")
	}
	return fold(a) == fold(b)
}

func (b *batchBuilder) addEdge(e model.Edge) {
	if e.From == "" || e.To == "" || e.From == e.To {
		return
	}
	if b.edges[e] {
		return
	}
	b.edges[e] = true
	b.batch.Edges = append(b.batch.Edges, e)
}

func (b *batchBuilder) addRoot(identity string) {
	if identity == "" || contains(b.batch.Roots, identity) {
		return
	}
	b.batch.Roots = append(b.batch.Roots, identity)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
