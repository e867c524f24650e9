package ingest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/crsche/trustify/pkg/db/common"
	"github.com/crsche/trustify/pkg/ingest/merge"
	"github.com/crsche/trustify/pkg/ingest/normalize"
	"github.com/crsche/trustify/pkg/model"
	"github.com/crsche/trustify/pkg/storage"
)

// Ingestor drives a document from raw bytes to the merged graph: digest,
// archive, normalize, merge. Concurrent submissions of identical bytes
// collapse onto one in-flight pass per digest.
type Ingestor struct {
	store  storage.Store
	db     common.DB
	engine *merge.Engine

	sf singleflight.Group
}

func New(store storage.Store, db common.DB) *Ingestor {
	return &Ingestor{
		store:  store,
		db:     db,
		engine: merge.NewEngine(db),
	}
}

// Document is one ingestion request. FormatHint may be empty, in which case
// the format is sniffed from the bytes.
type Document struct {
	Raw        []byte
	FormatHint string
	Source     string
}

// Ingest processes one document and returns its record. Malformed and
// ambiguous documents are recorded as failed and the error is returned; a
// storage or merge failure leaves the record pending so the document stays
// retryable.
func (i *Ingestor) Ingest(ctx context.Context, doc Document) (*model.DocumentRecord, error) {
	digest := storage.Sum(doc.Raw)

	v, err, _ := i.sf.Do(digest, func() (any, error) {
		return i.ingest(ctx, digest, doc)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.DocumentRecord), nil
}

func (i *Ingestor) ingest(ctx context.Context, digest string, doc Document) (*model.DocumentRecord, error) {
	// An already processed digest skips storage, normalization and merge.
	// Anything else is claimed as pending before work starts.
	rec, err := i.engine.Claim(digest, doc.Source)
	if err != nil {
		return nil, errors.Wrapf(err, "claim %s", digest)
	}
	if rec != nil {
		return rec, nil
	}

	if err := i.store.Put(digest, doc.Raw); err != nil {
		return nil, errors.Wrapf(err, "store %s", digest)
	}

	var format normalize.Format
	if doc.FormatHint != "" {
		format, err = normalize.ParseFormat(doc.FormatHint)
	} else {
		format, err = normalize.DetectFormat(doc.Raw)
	}
	if err != nil {
		return nil, i.fail(digest, string(format), doc.Source, err)
	}

	batch, err := normalize.Normalize(format, doc.Raw, model.Provenance{
		Digest: digest,
		Source: doc.Source,
	})
	if err != nil {
		var malformed *model.MalformedDocumentError
		var ambiguous *model.IdentityAmbiguousError
		if errors.As(err, &malformed) || errors.As(err, &ambiguous) {
			return nil, i.fail(digest, string(format), doc.Source, err)
		}
		return nil, errors.Wrapf(err, "normalize %s", digest)
	}

	rec, err = i.engine.Apply(ctx, batch)
	if err != nil {
		return nil, errors.Wrapf(err, "merge %s", digest)
	}
	return rec, nil
}

// fail records the document as failed and passes the cause through. The
// caller never merges a failed document, so the record is the only trace.
func (i *Ingestor) fail(digest, format, source string, cause error) error {
	if err := i.engine.RecordFailure(digest, format, source, cause.Error()); err != nil {
		return errors.Wrapf(err, "record failure of %s", digest)
	}
	return cause
}

// Result pairs one submitted document with its outcome.
type Result struct {
	Digest string
	Record *model.DocumentRecord
	Err    error
}

// IngestAll processes documents concurrently. Each document is its own
// failure domain: one bad document never stops the rest, and the returned
// results line up with the input order.
func (i *Ingestor) IngestAll(ctx context.Context, docs []Document, concurrency int) []Result {
	if concurrency < 1 {
		concurrency = 1
	}

	runID, err := uuid.NewRandom()
	if err == nil {
		slog.Info("Ingest documents", "run", runID.String(), "documents", len(docs), "concurrency", concurrency)
	}

	results := make([]Result, len(docs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for idx, doc := range docs {
		idx, doc := idx, doc
		g.Go(func() error {
			digest := storage.Sum(doc.Raw)
			rec, err := i.Ingest(ctx, doc)
			if err != nil {
				slog.Warn("Ingest failed", "run", runID.String(), "digest", digest, "err", err)
			}

			mu.Lock()
			results[idx] = Result{Digest: digest, Record: rec, Err: err}
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait()

	return results
}
