package merge_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/db/common"
	dbTypes "github.com/crsche/trustify/pkg/db/common/types"
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

func sbomBatch(digest string) *model.Batch {
	prov := model.Provenance{
		Digest: digest, Source: "test", Format: "cyclonedx",
		Family: model.FamilySBOM, DocModified: tp("2024-03-01T00:00:00Z"),
	}
	return &model.Batch{
		Provenance: prov,
		Packages: []model.Package{
			{Identity: "pkg:npm/webapp@2.0.0", Base: "pkg:npm/webapp", Type: "npm", Name: "webapp", Version: "2.0.0", DeclaredName: "webapp", DeclaredVersion: "2.0.0"},
			{Identity: "pkg:npm/left-pad@1.3.0", Base: "pkg:npm/left-pad", Type: "npm", Name: "left-pad", Version: "1.3.0", DeclaredName: "left-pad", DeclaredVersion: "1.3.0"},
		},
		Edges: []model.Edge{
			{From: "pkg:npm/webapp@2.0.0", To: "pkg:npm/left-pad@1.3.0", Kind: model.KindDependsOn},
		},
		Roots: []string{"pkg:npm/webapp@2.0.0"},
	}
}

func advisoryBatch(digest string, status model.StatementStatus, modified string) *model.Batch {
	prov := model.Provenance{
		Digest: digest, Source: "test", Format: "osv",
		Family: model.FamilyAdvisory, DocModified: tp(modified),
	}
	return &model.Batch{
		Provenance: prov,
		Vulnerabilities: []model.Vulnerability{
			{ID: "CVE-2024-0001", Summary: "left-pad pads into the void", Modified: prov.DocModified},
		},
		Statements: []model.Statement{
			{
				VulnerabilityID: "CVE-2024-0001",
				PackageBase:     "pkg:npm/left-pad",
				Range:           model.VersionRange{Scheme: "npm", Introduced: "1.0.0", Fixed: "1.3.1"},
				Assertions:      []model.Assertion{{Status: status, Provenance: prov}},
			},
		},
	}
}

func TestApplyIdempotent(t *testing.T) {
	dbc := open(t)
	eng := merge.NewEngine(dbc)
	ctx := context.Background()

	first, err := eng.Apply(ctx, sbomBatch("d1"))
	if err != nil {
		t.Fatalf("Apply(): %v", err)
	}
	if first.Status != model.DocProcessed {
		t.Fatalf("Status = %q, want processed", first.Status)
	}

	again, err := eng.Apply(ctx, sbomBatch("d1"))
	if err != nil {
		t.Fatalf("Apply() again: %v", err)
	}
	if !again.FirstSeen.Equal(first.FirstSeen) {
		t.Error("FirstSeen changed on re-apply")
	}

	if err := dbc.View(func(tx dbTypes.Tx) error {
		p, err := tx.Package("pkg:npm/left-pad@1.3.0")
		if err != nil {
			return err
		}
		if p == nil {
			t.Fatal("package missing after apply")
		}
		if len(p.Sources) != 1 {
			t.Errorf("re-apply duplicated sources: %d", len(p.Sources))
		}

		docs, err := tx.Documents()
		if err != nil {
			return err
		}
		if len(docs) != 1 {
			t.Errorf("got %d documents, want 1", len(docs))
		}
		return nil
	}); err != nil {
		t.Fatalf("View(): %v", err)
	}
}

func TestApplyEdgeProvenanceUnion(t *testing.T) {
	dbc := open(t)
	eng := merge.NewEngine(dbc)
	ctx := context.Background()

	if _, err := eng.Apply(ctx, sbomBatch("d1")); err != nil {
		t.Fatalf("Apply(): %v", err)
	}
	if _, err := eng.Apply(ctx, sbomBatch("d2")); err != nil {
		t.Fatalf("Apply() second sbom: %v", err)
	}

	if err := dbc.View(func(tx dbTypes.Tx) error {
		p, err := tx.Package("pkg:npm/webapp@2.0.0")
		if err != nil {
			return err
		}
		rels, err := tx.RelationshipsFrom(p.Key)
		if err != nil {
			return err
		}
		if len(rels) != 1 {
			t.Fatalf("got %d relationships, want 1 deduplicated edge", len(rels))
		}
		if len(rels[0].Sources) != 2 {
			t.Errorf("edge sources = %d, want union of both documents", len(rels[0].Sources))
		}
		return nil
	}); err != nil {
		t.Fatalf("View(): %v", err)
	}
}

func TestApplyConflictRetention(t *testing.T) {
	dbc := open(t)
	eng := merge.NewEngine(dbc)
	ctx := context.Background()

	if _, err := eng.Apply(ctx, advisoryBatch("a1", model.StatusAffected, "2024-02-01T00:00:00Z")); err != nil {
		t.Fatalf("Apply(): %v", err)
	}
	if _, err := eng.Apply(ctx, advisoryBatch("a2", model.StatusNotAffected, "2024-02-15T00:00:00Z")); err != nil {
		t.Fatalf("Apply() second advisory: %v", err)
	}

	if err := dbc.View(func(tx dbTypes.Tx) error {
		sts, err := tx.StatementsByVulnerability("CVE-2024-0001")
		if err != nil {
			return err
		}
		if len(sts) != 1 {
			t.Fatalf("got %d statements, want 1", len(sts))
		}

		st := sts[0]
		if len(st.Assertions) != 2 {
			t.Fatalf("got %d assertions, want both retained", len(st.Assertions))
		}
		if !st.Disputed {
			t.Error("conflicting assertions not marked disputed")
		}
		if got := st.Effective().Status; got != model.StatusNotAffected {
			t.Errorf("Effective() = %q, want the newer document to win", got)
		}
		return nil
	}); err != nil {
		t.Fatalf("View(): %v", err)
	}
}

func TestApplyVulnerabilityPrecedence(t *testing.T) {
	dbc := open(t)
	eng := merge.NewEngine(dbc)
	ctx := context.Background()

	newer := advisoryBatch("a1", model.StatusAffected, "2024-02-15T00:00:00Z")
	if _, err := eng.Apply(ctx, newer); err != nil {
		t.Fatalf("Apply(): %v", err)
	}

	older := advisoryBatch("a2", model.StatusAffected, "2024-02-01T00:00:00Z")
	older.Vulnerabilities[0].Summary = "stale summary"
	older.Vulnerabilities[0].Description = "older docs still fill gaps"
	if _, err := eng.Apply(ctx, older); err != nil {
		t.Fatalf("Apply() older advisory: %v", err)
	}

	if err := dbc.View(func(tx dbTypes.Tx) error {
		v, err := tx.Vulnerability("CVE-2024-0001")
		if err != nil {
			return err
		}
		if v.Summary != "left-pad pads into the void" {
			t.Errorf("Summary = %q, older document overwrote a newer one", v.Summary)
		}
		if v.Description != "older docs still fill gaps" {
			t.Errorf("Description = %q, losing source should fill empty fields", v.Description)
		}
		if v.AttributedBy.Digest != "a1" {
			t.Errorf("AttributedBy = %q, want a1", v.AttributedBy.Digest)
		}
		if len(v.Sources) != 2 {
			t.Errorf("Sources = %d, want both retained", len(v.Sources))
		}
		return nil
	}); err != nil {
		t.Fatalf("View(): %v", err)
	}
}

func TestRecordFailure(t *testing.T) {
	dbc := open(t)
	eng := merge.NewEngine(dbc)

	if err := eng.RecordFailure("bad1", "osv", "test", "malformed document: osv advisory has no id"); err != nil {
		t.Fatalf("RecordFailure(): %v", err)
	}

	if err := dbc.View(func(tx dbTypes.Tx) error {
		doc, err := tx.Document("bad1")
		if err != nil {
			return err
		}
		if doc == nil {
			t.Fatal("failed document not recorded")
		}
		want := model.DocumentRecord{
			Digest: "bad1", Format: "osv", Source: "test",
			Status: model.DocFailed, FailureReason: "malformed document: osv advisory has no id",
			FirstSeen: doc.FirstSeen, LastSeen: doc.LastSeen,
		}
		if diff := cmp.Diff(want, *doc); diff != "" {
			t.Errorf("document record (-expected +got):\n%s", diff)
		}
		return nil
	}); err != nil {
		t.Fatalf("View(): %v", err)
	}
}

// flakyDB injects a write failure partway through a transaction to exercise
// rollback of partially applied batches.
type flakyDB struct {
	common.DB
	failOn int
}

func (d *flakyDB) Update(fn func(dbTypes.Tx) error) error {
	return d.DB.Update(func(tx dbTypes.Tx) error {
		return fn(&flakyTx{Tx: tx, failOn: d.failOn})
	})
}

type flakyTx struct {
	dbTypes.Tx
	puts   int
	failOn int
}

func (t *flakyTx) PutPackage(p model.Package) error {
	t.puts++
	if t.puts >= t.failOn {
		return errors.New("disk full")
	}
	return t.Tx.PutPackage(p)
}

func TestApplyFailureRollsBack(t *testing.T) {
	dbc := open(t)
	eng := merge.NewEngine(&flakyDB{DB: dbc, failOn: 2})

	if _, err := eng.Apply(context.Background(), sbomBatch("d9")); err == nil {
		t.Fatal("Apply() succeeded, want error")
	}

	if err := dbc.View(func(tx dbTypes.Tx) error {
		p, err := tx.Package("pkg:npm/webapp@2.0.0")
		if err != nil {
			return err
		}
		if p != nil {
			t.Errorf("package visible after failed batch: %+v", p)
		}
		doc, err := tx.Document("d9")
		if err != nil {
			return err
		}
		if doc != nil {
			t.Errorf("document record visible after failed batch: %+v", doc)
		}
		return nil
	}); err != nil {
		t.Fatalf("View(): %v", err)
	}
}
