package ingest_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/db/common"
	dbTypes "github.com/crsche/trustify/pkg/db/common/types"
	"github.com/crsche/trustify/pkg/graph"
	"github.com/crsche/trustify/pkg/ingest"
	"github.com/crsche/trustify/pkg/model"
	"github.com/crsche/trustify/pkg/storage"
	storageFS "github.com/crsche/trustify/pkg/storage/fs"
)

const sbomDoc = `{
  "bomFormat": "CycloneDX",
  "specVersion": "1.5",
  "version": 1,
  "metadata": {
    "timestamp": "2024-03-01T10:00:00Z",
    "component": {"bom-ref": "app", "type": "application", "name": "webapp", "version": "2.0.0", "purl": "pkg:npm/webapp@2.0.0"}
  },
  "components": [
    {"bom-ref": "lp", "type": "library", "name": "left-pad", "version": "1.3.0", "purl": "pkg:npm/left-pad@1.3.0"}
  ],
  "dependencies": [
    {"ref": "app", "dependsOn": ["lp"]}
  ]
}`

const advisoryDoc = `{
  "id": "CVE-2024-0001",
  "modified": "2024-02-20T12:00:00Z",
  "affected": [
    {
      "package": {"ecosystem": "npm", "name": "left-pad", "purl": "pkg:npm/left-pad"},
      "ranges": [{"type": "SEMVER", "events": [{"introduced": "1.0.0"}, {"fixed": "1.3.1"}]}]
    }
  ]
}`

func setup(t *testing.T) (*ingest.Ingestor, common.DB, storage.Store) {
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

	store, err := storageFS.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return ingest.New(store, dbc), dbc, store
}

func TestIngestIdempotent(t *testing.T) {
	ing, _, store := setup(t)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, ingest.Document{Raw: []byte(sbomDoc), Source: "ci"})
	if err != nil {
		t.Fatalf("Ingest(): %v", err)
	}
	if first.Status != model.DocProcessed {
		t.Errorf("Status = %q, want %q", first.Status, model.DocProcessed)
	}
	if first.Format != "cyclonedx" {
		t.Errorf("Format = %q, want detected cyclonedx", first.Format)
	}

	second, err := ing.Ingest(ctx, ingest.Document{Raw: []byte(sbomDoc), Source: "ci"})
	if err != nil {
		t.Fatalf("Ingest() again: %v", err)
	}
	if second.Digest != first.Digest {
		t.Errorf("digest changed across identical ingests: %q vs %q", first.Digest, second.Digest)
	}
	if !second.FirstSeen.Equal(first.FirstSeen) {
		t.Errorf("FirstSeen moved on re-ingest: %v vs %v", first.FirstSeen, second.FirstSeen)
	}

	ok, err := store.Exists(first.Digest)
	if err != nil || !ok {
		t.Errorf("raw document not archived: ok=%v err=%v", ok, err)
	}
}

func TestIngestConcurrentSameBytes(t *testing.T) {
	ing, dbc, _ := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = ing.Ingest(ctx, ingest.Document{Raw: []byte(sbomDoc), Source: "ci"})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent Ingest() #%d: %v", i, err)
		}
	}

	if err := dbc.View(func(tx dbTypes.Tx) error {
		recs, err := tx.Documents()
		if err != nil {
			return err
		}
		if len(recs) != 1 {
			t.Errorf("got %d document records, want 1", len(recs))
		}
		p, err := tx.Package("pkg:npm/left-pad@1.3.0")
		if err != nil {
			return err
		}
		if p == nil || len(p.Sources) != 1 {
			t.Errorf("package sources = %+v, want exactly one", p)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestIngestMalformedRecordsFailure(t *testing.T) {
	ing, dbc, _ := setup(t)

	raw := []byte(`{]`)
	if _, err := ing.Ingest(context.Background(), ingest.Document{Raw: raw, FormatHint: "cyclonedx", Source: "upload"}); err == nil {
		t.Fatal("Ingest() of malformed document did not fail")
	}

	var rec *model.DocumentRecord
	if err := dbc.View(func(tx dbTypes.Tx) error {
		var err error
		rec, err = tx.Document(storage.Sum(raw))
		return err
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if rec == nil {
		t.Fatal("no record for the failed document")
	}
	if rec.Status != model.DocFailed || rec.FailureReason == "" {
		t.Errorf("record = %+v, want failed with a reason", rec)
	}
}

func TestIngestUndetectableFormat(t *testing.T) {
	ing, dbc, _ := setup(t)

	raw := []byte(`{"hello": "world"}`)
	if _, err := ing.Ingest(context.Background(), ingest.Document{Raw: raw, Source: "upload"}); err == nil {
		t.Fatal("Ingest() without a recognizable format did not fail")
	}

	if err := dbc.View(func(tx dbTypes.Tx) error {
		rec, err := tx.Document(storage.Sum(raw))
		if err != nil {
			return err
		}
		if rec == nil || rec.Status != model.DocFailed {
			t.Errorf("record = %+v, want failed", rec)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestIngestAllIndependentFailures(t *testing.T) {
	ing, dbc, _ := setup(t)

	docs := []ingest.Document{
		{Raw: []byte(sbomDoc), Source: "ci"},
		{Raw: []byte(`{]`), FormatHint: "osv", Source: "feed"},
		{Raw: []byte(advisoryDoc), Source: "feed"},
	}
	results := ing.IngestAll(context.Background(), docs, 2)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("good documents failed: %v, %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Error("malformed document succeeded")
	}

	// Both good documents landed, so the correlation is queryable.
	findings, err := graph.New(dbc).ImpactOf("CVE-2024-0001")
	if err != nil {
		t.Fatalf("ImpactOf(): %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want direct plus dependent: %+v", len(findings), findings)
	}
	if findings[0].Package != "pkg:npm/left-pad@1.3.0" || findings[1].Package != "pkg:npm/webapp@2.0.0" {
		t.Errorf("unexpected findings: %+v", findings)
	}
}

// brokenDB fails every package write so a merge dies inside its transaction.
type brokenDB struct {
	common.DB
}

func (d *brokenDB) Update(fn func(dbTypes.Tx) error) error {
	return d.DB.Update(func(tx dbTypes.Tx) error {
		return fn(&brokenTx{Tx: tx})
	})
}

type brokenTx struct {
	dbTypes.Tx
}

func (t *brokenTx) PutPackage(model.Package) error {
	return errors.New("i/o error")
}

func TestIngestInterruptedMergeLeavesPending(t *testing.T) {
	_, dbc, store := setup(t)
	ctx := context.Background()
	digest := storage.Sum([]byte(sbomDoc))

	broken := ingest.New(store, &brokenDB{DB: dbc})
	if _, err := broken.Ingest(ctx, ingest.Document{Raw: []byte(sbomDoc), Source: "ci"}); err == nil {
		t.Fatal("Ingest() succeeded, want merge error")
	}

	var pending model.DocumentRecord
	if err := dbc.View(func(tx dbTypes.Tx) error {
		rec, err := tx.Document(digest)
		if err != nil {
			return err
		}
		if rec == nil {
			t.Fatal("no record after interrupted merge")
		}
		pending = *rec
		return nil
	}); err != nil {
		t.Fatalf("View(): %v", err)
	}
	if pending.Status != model.DocPending {
		t.Fatalf("Status = %q, want %q", pending.Status, model.DocPending)
	}

	rec, err := ingest.New(store, dbc).Ingest(ctx, ingest.Document{Raw: []byte(sbomDoc), Source: "ci"})
	if err != nil {
		t.Fatalf("Ingest() retry: %v", err)
	}
	if rec.Status != model.DocProcessed {
		t.Errorf("Status = %q, want %q", rec.Status, model.DocProcessed)
	}
	if !rec.FirstSeen.Equal(pending.FirstSeen) {
		t.Errorf("FirstSeen changed across pending to processed: %v vs %v", pending.FirstSeen, rec.FirstSeen)
	}
}

func TestIngestProcessedFastPath(t *testing.T) {
	ing, _, _ := setup(t)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, ingest.Document{Raw: []byte(sbomDoc), Source: "ci"})
	if err != nil {
		t.Fatalf("Ingest(): %v", err)
	}
	if first.Status != model.DocProcessed {
		t.Fatalf("Status = %q, want %q", first.Status, model.DocProcessed)
	}

	// A processed digest returns before format parsing; a hint that would
	// otherwise fail shows the document was not normalized again.
	again, err := ing.Ingest(ctx, ingest.Document{Raw: []byte(sbomDoc), FormatHint: "sarif", Source: "ci"})
	if err != nil {
		t.Fatalf("Ingest() re-submission: %v", err)
	}
	if again.Status != model.DocProcessed {
		t.Errorf("Status = %q, want %q", again.Status, model.DocProcessed)
	}
	if !again.FirstSeen.Equal(first.FirstSeen) {
		t.Errorf("FirstSeen changed on fast path: %v vs %v", first.FirstSeen, again.FirstSeen)
	}
}
