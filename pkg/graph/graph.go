package graph

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/db/common"
	dbTypes "github.com/crsche/trustify/pkg/db/common/types"
	"github.com/crsche/trustify/pkg/ecosystem"
	"github.com/crsche/trustify/pkg/model"
)

// Engine answers correlation queries over the merged graph. All reads run in
// one View transaction so results are a consistent snapshot.
type Engine struct {
	db common.DB
}

func New(db common.DB) *Engine {
	return &Engine{db: db}
}

// Finding is one (vulnerability, package) correlation. Path traces the
// dependency chain from the query subject to the package: for vulnerability
// queries from the directly affected package out to each dependent, for
// package queries from the queried package down to the affected dependency.
// A direct finding has a single-element path.
type Finding struct {
	VulnerabilityID string   `json:"vulnerability_id"`
	Package         string   `json:"package"`
	Path            []string `json:"path"`

	Status        model.StatementStatus `json:"status"`
	Justification string                `json:"justification,omitempty"`
	Disputed      bool                  `json:"disputed,omitempty"`
}

// ImpactOf returns every package impacted by the vulnerability: packages
// whose version matches an affected range, and everything that transitively
// depends on or contains them. Only effectively affected statements
// propagate, but direct findings report all statuses. Findings come back in
// deterministic order regardless of ingestion order.
func (e *Engine) ImpactOf(vulnID string) ([]Finding, error) {
	var findings []Finding
	if err := e.db.View(func(tx dbTypes.Tx) error {
		sts, err := tx.StatementsByVulnerability(vulnID)
		if err != nil {
			return errors.WithStack(err)
		}

		for _, st := range sts {
			eff := st.Effective()

			matched, err := matchingPackages(tx, st)
			if err != nil {
				return err
			}

			for _, p := range matched {
				findings = append(findings, Finding{
					VulnerabilityID: vulnID,
					Package:         p.Identity,
					Path:            []string{p.Identity},
					Status:          eff.Status,
					Justification:   eff.Justification,
					Disputed:        st.Disputed,
				})

				if eff.Status != model.StatusAffected {
					continue
				}

				dependents, err := dependentPaths(tx, p)
				if err != nil {
					return err
				}
				for _, d := range dependents {
					findings = append(findings, Finding{
						VulnerabilityID: vulnID,
						Package:         d[len(d)-1],
						Path:            d,
						Status:          eff.Status,
						Disputed:        st.Disputed,
					})
				}
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	sortFindings(findings)
	return findings, nil
}

// VulnerabilitiesFor returns the vulnerabilities impacting one package,
// directly or through its transitive dependencies.
func (e *Engine) VulnerabilitiesFor(identity string) ([]Finding, error) {
	var findings []Finding
	if err := e.db.View(func(tx dbTypes.Tx) error {
		start, err := tx.Package(identity)
		if err != nil {
			return errors.WithStack(err)
		}
		if start == nil {
			return nil
		}

		// Forward walk: the package, then everything it depends on or
		// contains, cycle-safe through the visited set.
		type node struct {
			pkg  model.Package
			path []string
		}
		visited := map[uint64]bool{start.Key: true}
		queue := []node{{pkg: *start, path: []string{start.Identity}}}

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			direct, err := directFindings(tx, cur.pkg)
			if err != nil {
				return err
			}
			for _, f := range direct {
				// Path runs from the queried package down to the affected one.
				path := append([]string{}, cur.path...)
				findings = append(findings, Finding{
					VulnerabilityID: f.VulnerabilityID,
					Package:         cur.pkg.Identity,
					Path:            path,
					Status:          f.Status,
					Justification:   f.Justification,
					Disputed:        f.Disputed,
				})
			}

			rels, err := tx.RelationshipsFrom(cur.pkg.Key)
			if err != nil {
				return errors.WithStack(err)
			}
			next, err := neighborPackages(tx, rels, func(r model.Relationship) uint64 { return r.To })
			if err != nil {
				return err
			}
			for _, n := range next {
				if visited[n.Key] {
					continue
				}
				visited[n.Key] = true
				queue = append(queue, node{pkg: n, path: append(append([]string{}, cur.path...), n.Identity)})
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	sortFindings(findings)
	return findings, nil
}

// DocumentStatus reports the processing state of one ingested digest.
func (e *Engine) DocumentStatus(digest string) (*model.DocumentRecord, error) {
	var rec *model.DocumentRecord
	if err := e.db.View(func(tx dbTypes.Tx) error {
		var err error
		rec, err = tx.Document(digest)
		return errors.WithStack(err)
	}); err != nil {
		return nil, err
	}
	return rec, nil
}

// Documents lists every ingested document record.
func (e *Engine) Documents() ([]model.DocumentRecord, error) {
	var recs []model.DocumentRecord
	if err := e.db.View(func(tx dbTypes.Tx) error {
		var err error
		recs, err = tx.Documents()
		return errors.WithStack(err)
	}); err != nil {
		return nil, err
	}
	return recs, nil
}

func matchingPackages(tx dbTypes.Tx, st model.Statement) ([]model.Package, error) {
	pkgs, err := tx.PackagesByBase(st.PackageBase)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var matched []model.Package
	for _, p := range pkgs {
		if p.Version == "" {
			continue
		}
		ok, err := ecosystem.Match(st.Range, p.Version)
		if err != nil {
			// Versions the scheme cannot parse never match; the package
			// keeps its declared version for inspection.
			continue
		}
		if ok {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func directFindings(tx dbTypes.Tx, p model.Package) ([]Finding, error) {
	sts, err := tx.StatementsByBase(p.Base)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var out []Finding
	for _, st := range sts {
		if p.Version == "" {
			continue
		}
		ok, err := ecosystem.Match(st.Range, p.Version)
		if err != nil || !ok {
			continue
		}
		eff := st.Effective()
		out = append(out, Finding{
			VulnerabilityID: st.VulnerabilityID,
			Status:          eff.Status,
			Justification:   eff.Justification,
			Disputed:        st.Disputed,
		})
	}
	return out, nil
}

// dependentPaths walks the reverse dependency edges breadth-first. Cycles
// terminate through the visited set; each package is reported once via its
// shortest path.
func dependentPaths(tx dbTypes.Tx, start model.Package) ([][]string, error) {
	type node struct {
		key  uint64
		path []string
	}
	visited := map[uint64]bool{start.Key: true}
	queue := []node{{key: start.Key, path: []string{start.Identity}}}

	var out [][]string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		rels, err := tx.RelationshipsTo(cur.key)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		next, err := neighborPackages(tx, rels, func(r model.Relationship) uint64 { return r.From })
		if err != nil {
			return nil, err
		}
		for _, n := range next {
			if visited[n.Key] {
				continue
			}
			visited[n.Key] = true
			path := append(append([]string{}, cur.path...), n.Identity)
			out = append(out, path)
			queue = append(queue, node{key: n.Key, path: path})
		}
	}
	return out, nil
}

// neighborPackages resolves relationship endpoints and orders them by
// identity so traversal order never depends on storage order.
func neighborPackages(tx dbTypes.Tx, rels []model.Relationship, pick func(model.Relationship) uint64) ([]model.Package, error) {
	seen := map[uint64]bool{}
	var out []model.Package
	for _, r := range rels {
		if r.Kind != model.KindDependsOn && r.Kind != model.KindContains {
			continue
		}
		key := pick(r)
		if seen[key] {
			continue
		}
		seen[key] = true

		p, err := tx.PackageByKey(key)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if p == nil {
			return nil, errors.Errorf("relationship references missing package %d", key)
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func sortFindings(fs []Finding) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].VulnerabilityID != fs[j].VulnerabilityID {
			return fs[i].VulnerabilityID < fs[j].VulnerabilityID
		}
		if len(fs[i].Path) != len(fs[j].Path) {
			return len(fs[i].Path) < len(fs[j].Path)
		}
		for k := range fs[i].Path {
			if fs[i].Path[k] != fs[j].Path[k] {
				return fs[i].Path[k] < fs[j].Path[k]
			}
		}
		return fs[i].Package < fs[j].Package
	})
}
