package graph_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/crsche/trustify/pkg/db/common"
	"github.com/crsche/trustify/pkg/graph"
	"github.com/crsche/trustify/pkg/ingest/merge"
	"github.com/crsche/trustify/pkg/model"
)

func open(t *testing.T) common.DB {
	t.Helper()

	conf := common.Config{Type: "boltdb", Path: filepath.Join(t.TempDir(), "trustify.db")}
	dbc, err := conf.New()
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	if err := dbc.Open(); err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbc.Close() })

	if err := dbc.Initialize(); err != nil {
		t.Fatalf("initialize db: %v", err)
	}
	return dbc
}

func tp(s string) *time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &ts
}

func npmPackage(name, version string) model.Package {
	return model.Package{
		Identity: "pkg:npm/" + name + "@" + version,
		Base:     "pkg:npm/" + name,
		Type:     "npm", Name: name, Version: version,
		DeclaredName: name, DeclaredVersion: version,
	}
}

func apply(t *testing.T, dbc common.DB, b *model.Batch) {
	t.Helper()
	if _, err := merge.NewEngine(dbc).Apply(context.Background(), b); err != nil {
		t.Fatalf("apply batch %s: %v", b.Provenance.Digest, err)
	}
}

func sbom(digest string, pkgs []model.Package, edges []model.Edge) *model.Batch {
	return &model.Batch{
		Provenance: model.Provenance{Digest: digest, Format: "cyclonedx", Family: model.FamilySBOM, DocModified: tp("2024-03-01T00:00:00Z")},
		Packages:   pkgs,
		Edges:      edges,
	}
}

func advisory(digest, vulnID, base string, rng model.VersionRange, status model.StatementStatus, modified string) *model.Batch {
	prov := model.Provenance{Digest: digest, Format: "osv", Family: model.FamilyAdvisory, DocModified: tp(modified)}
	return &model.Batch{
		Provenance:      prov,
		Vulnerabilities: []model.Vulnerability{{ID: vulnID}},
		Statements: []model.Statement{{
			VulnerabilityID: vulnID,
			PackageBase:     base,
			Range:           rng,
			Assertions:      []model.Assertion{{Status: status, Provenance: prov}},
		}},
	}
}

func TestImpactOfChain(t *testing.T) {
	dbc := open(t)

	apply(t, dbc, sbom("s1",
		[]model.Package{npmPackage("site", "1.0.0"), npmPackage("webapp", "2.0.0"), npmPackage("left-pad", "1.3.0")},
		[]model.Edge{
			{From: "pkg:npm/site@1.0.0", To: "pkg:npm/webapp@2.0.0", Kind: model.KindDependsOn},
			{From: "pkg:npm/webapp@2.0.0", To: "pkg:npm/left-pad@1.3.0", Kind: model.KindDependsOn},
		}))
	apply(t, dbc, advisory("a1", "CVE-2024-0001", "pkg:npm/left-pad",
		model.VersionRange{Scheme: "npm", Introduced: "1.0.0", Fixed: "1.3.1"},
		model.StatusAffected, "2024-02-01T00:00:00Z"))

	got, err := graph.New(dbc).ImpactOf("CVE-2024-0001")
	if err != nil {
		t.Fatalf("ImpactOf(): %v", err)
	}

	want := []graph.Finding{
		{
			VulnerabilityID: "CVE-2024-0001",
			Package:         "pkg:npm/left-pad@1.3.0",
			Path:            []string{"pkg:npm/left-pad@1.3.0"},
			Status:          model.StatusAffected,
		},
		{
			VulnerabilityID: "CVE-2024-0001",
			Package:         "pkg:npm/webapp@2.0.0",
			Path:            []string{"pkg:npm/left-pad@1.3.0", "pkg:npm/webapp@2.0.0"},
			Status:          model.StatusAffected,
		},
		{
			VulnerabilityID: "CVE-2024-0001",
			Package:         "pkg:npm/site@1.0.0",
			Path:            []string{"pkg:npm/left-pad@1.3.0", "pkg:npm/webapp@2.0.0", "pkg:npm/site@1.0.0"},
			Status:          model.StatusAffected,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ImpactOf() (-expected +got):\n%s", diff)
	}
}

func TestImpactOfCycleTerminates(t *testing.T) {
	dbc := open(t)

	apply(t, dbc, sbom("s1",
		[]model.Package{npmPackage("alpha", "1.0.0"), npmPackage("beta", "1.0.0")},
		[]model.Edge{
			{From: "pkg:npm/alpha@1.0.0", To: "pkg:npm/beta@1.0.0", Kind: model.KindDependsOn},
			{From: "pkg:npm/beta@1.0.0", To: "pkg:npm/alpha@1.0.0", Kind: model.KindDependsOn},
		}))
	apply(t, dbc, advisory("a1", "CVE-2024-0002", "pkg:npm/beta",
		model.Universal("npm"), model.StatusAffected, "2024-02-01T00:00:00Z"))

	got, err := graph.New(dbc).ImpactOf("CVE-2024-0002")
	if err != nil {
		t.Fatalf("ImpactOf(): %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d findings in a cycle, want 2: %+v", len(got), got)
	}
	if got[0].Package != "pkg:npm/beta@1.0.0" || got[1].Package != "pkg:npm/alpha@1.0.0" {
		t.Errorf("unexpected findings: %+v", got)
	}
}

func TestImpactOfVersionOutsideRange(t *testing.T) {
	dbc := open(t)

	apply(t, dbc, sbom("s1", []model.Package{npmPackage("left-pad", "1.3.1")}, nil))
	apply(t, dbc, advisory("a1", "CVE-2024-0001", "pkg:npm/left-pad",
		model.VersionRange{Scheme: "npm", Introduced: "1.0.0", Fixed: "1.3.1"},
		model.StatusAffected, "2024-02-01T00:00:00Z"))

	got, err := graph.New(dbc).ImpactOf("CVE-2024-0001")
	if err != nil {
		t.Fatalf("ImpactOf(): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("fixed version matched affected range: %+v", got)
	}
}

func TestImpactOfNotAffectedDoesNotPropagate(t *testing.T) {
	dbc := open(t)

	apply(t, dbc, sbom("s1",
		[]model.Package{npmPackage("webapp", "2.0.0"), npmPackage("left-pad", "1.3.0")},
		[]model.Edge{{From: "pkg:npm/webapp@2.0.0", To: "pkg:npm/left-pad@1.3.0", Kind: model.KindDependsOn}}))
	apply(t, dbc, advisory("a1", "CVE-2024-0001", "pkg:npm/left-pad",
		model.VersionRange{Scheme: "npm", Introduced: "1.0.0", Fixed: "1.3.1"},
		model.StatusAffected, "2024-02-01T00:00:00Z"))
	// A later VEX statement for the same range overrides the status.
	apply(t, dbc, advisory("v1", "CVE-2024-0001", "pkg:npm/left-pad",
		model.VersionRange{Scheme: "npm", Introduced: "1.0.0", Fixed: "1.3.1"},
		model.StatusNotAffected, "2024-02-20T00:00:00Z"))

	got, err := graph.New(dbc).ImpactOf("CVE-2024-0001")
	if err != nil {
		t.Fatalf("ImpactOf(): %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d findings, want only the direct one: %+v", len(got), got)
	}
	f := got[0]
	if f.Status != model.StatusNotAffected {
		t.Errorf("Status = %q, want the newer statement to win", f.Status)
	}
	if !f.Disputed {
		t.Error("conflicting statuses not marked disputed")
	}
}

func TestVulnerabilitiesFor(t *testing.T) {
	dbc := open(t)

	apply(t, dbc, sbom("s1",
		[]model.Package{npmPackage("site", "1.0.0"), npmPackage("webapp", "2.0.0"), npmPackage("left-pad", "1.3.0")},
		[]model.Edge{
			{From: "pkg:npm/site@1.0.0", To: "pkg:npm/webapp@2.0.0", Kind: model.KindDependsOn},
			{From: "pkg:npm/webapp@2.0.0", To: "pkg:npm/left-pad@1.3.0", Kind: model.KindDependsOn},
		}))
	apply(t, dbc, advisory("a1", "CVE-2024-0001", "pkg:npm/left-pad",
		model.VersionRange{Scheme: "npm", Introduced: "1.0.0", Fixed: "1.3.1"},
		model.StatusAffected, "2024-02-01T00:00:00Z"))

	got, err := graph.New(dbc).VulnerabilitiesFor("pkg:npm/site@1.0.0")
	if err != nil {
		t.Fatalf("VulnerabilitiesFor(): %v", err)
	}

	want := []graph.Finding{{
		VulnerabilityID: "CVE-2024-0001",
		Package:         "pkg:npm/left-pad@1.3.0",
		Path:            []string{"pkg:npm/site@1.0.0", "pkg:npm/webapp@2.0.0", "pkg:npm/left-pad@1.3.0"},
		Status:          model.StatusAffected,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("VulnerabilitiesFor() (-expected +got):\n%s", diff)
	}

	none, err := graph.New(dbc).VulnerabilitiesFor("pkg:npm/unknown@1.0.0")
	if err != nil {
		t.Fatalf("VulnerabilitiesFor() unknown: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown package produced findings: %+v", none)
	}
}
