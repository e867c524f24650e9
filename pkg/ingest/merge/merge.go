package merge

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/db/common"
	dbTypes "github.com/crsche/trustify/pkg/db/common/types"
	"github.com/crsche/trustify/pkg/model"
)

// Engine folds normalized batches into the correlation graph. One batch is
// one transaction: either every effect of a document lands or none does.
type Engine struct {
	db common.DB

	maxRetries uint64
}

func NewEngine(db common.DB) *Engine {
	return &Engine{db: db, maxRetries: 5}
}

// Apply merges the batch. Re-applying a batch whose digest was already
// processed only refreshes the document's last seen time. Write conflicts
// from concurrent transactions are retried with exponential backoff.
func (e *Engine) Apply(ctx context.Context, batch *model.Batch) (*model.DocumentRecord, error) {
	var rec *model.DocumentRecord
	op := func() error {
		r, err := e.apply(batch)
		if err != nil {
			if errors.Is(err, dbTypes.ErrWriteConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		rec = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, errors.WithStack(err)
	}
	return rec, nil
}

// Claim records a digest as pending before normalization starts, so an
// ingestion interrupted mid-flight stays visible to status queries. If the
// digest was already processed, Claim refreshes its last seen time and
// returns the record so the caller can skip normalize and merge entirely.
func (e *Engine) Claim(digest, source string) (*model.DocumentRecord, error) {
	now := time.Now().UTC()
	var processed *model.DocumentRecord
	if err := e.db.Update(func(tx dbTypes.Tx) error {
		existing, err := tx.Document(digest)
		if err != nil {
			return errors.WithStack(err)
		}
		if existing != nil && existing.Status == model.DocProcessed {
			existing.LastSeen = now
			processed = existing
			return errors.WithStack(tx.PutDocument(*existing))
		}

		rec := model.DocumentRecord{
			Digest:    digest,
			Source:    source,
			Status:    model.DocPending,
			FirstSeen: now,
			LastSeen:  now,
		}
		if existing != nil {
			rec.FirstSeen = existing.FirstSeen
		}
		return errors.WithStack(tx.PutDocument(rec))
	}); err != nil {
		return nil, err
	}
	return processed, nil
}

// RecordFailure marks a digest as failed so repeated submissions of the same
// broken content do not reprocess it.
func (e *Engine) RecordFailure(digest, format, source, reason string) error {
	now := time.Now().UTC()
	return e.db.Update(func(tx dbTypes.Tx) error {
		rec := model.DocumentRecord{
			Digest:    digest,
			Format:    format,
			Source:    source,
			FirstSeen: now,
		}
		if existing, err := tx.Document(digest); err != nil {
			return errors.WithStack(err)
		} else if existing != nil {
			rec.FirstSeen = existing.FirstSeen
		}
		rec.Status = model.DocFailed
		rec.FailureReason = reason
		rec.LastSeen = now
		return errors.WithStack(tx.PutDocument(rec))
	})
}

func (e *Engine) apply(batch *model.Batch) (*model.DocumentRecord, error) {
	now := time.Now().UTC()
	prov := batch.Provenance

	var rec model.DocumentRecord
	if err := e.db.Update(func(tx dbTypes.Tx) error {
		existing, err := tx.Document(prov.Digest)
		if err != nil {
			return errors.WithStack(err)
		}
		if existing != nil && existing.Status == model.DocProcessed {
			existing.LastSeen = now
			rec = *existing
			return errors.WithStack(tx.PutDocument(*existing))
		}

		keys := map[string]uint64{}
		for _, p := range batch.Packages {
			key, err := mergePackage(tx, p, prov)
			if err != nil {
				return err
			}
			keys[p.Identity] = key
		}

		for _, edge := range batch.Edges {
			from, okFrom := keys[edge.From]
			to, okTo := keys[edge.To]
			if !okFrom || !okTo {
				continue
			}
			if err := mergeEdge(tx, from, edge.Kind, to, prov); err != nil {
				return err
			}
		}

		for _, v := range batch.Vulnerabilities {
			if err := mergeVulnerability(tx, v, prov); err != nil {
				return err
			}
		}

		for _, s := range batch.Statements {
			if err := mergeStatement(tx, s); err != nil {
				return err
			}
		}

		rec = model.DocumentRecord{
			Digest:          prov.Digest,
			Format:          prov.Format,
			Source:          prov.Source,
			Status:          model.DocProcessed,
			FirstSeen:       now,
			LastSeen:        now,
			Roots:           batch.Roots,
			Packages:        len(batch.Packages),
			Relationships:   len(batch.Edges),
			Vulnerabilities: len(batch.Vulnerabilities),
			Statements:      len(batch.Statements),
		}
		if existing != nil {
			rec.FirstSeen = existing.FirstSeen
		}
		return errors.WithStack(tx.PutDocument(rec))
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

func mergePackage(tx dbTypes.Tx, p model.Package, prov model.Provenance) (uint64, error) {
	stored, err := tx.Package(p.Identity)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	if stored == nil {
		key, err := tx.NextPackageKey()
		if err != nil {
			return 0, errors.WithStack(err)
		}
		p.Key = key
		p.Sources = []model.Provenance{prov}
		return key, errors.WithStack(tx.PutPackage(p))
	}

	// Declared attributes follow source precedence; identification facts
	// from SBOMs outrank the same claims from advisories.
	if morePrecedentThanAll(prov, stored.Sources, model.FamilySBOM) {
		if p.DeclaredName != "" {
			stored.DeclaredName = p.DeclaredName
		}
		if p.DeclaredVersion != "" {
			stored.DeclaredVersion = p.DeclaredVersion
		}
	}
	for _, cpe := range p.CPEs {
		if !containsString(stored.CPEs, cpe) {
			stored.CPEs = append(stored.CPEs, cpe)
		}
	}
	stored.Sources = appendProvenance(stored.Sources, prov)

	return stored.Key, errors.WithStack(tx.PutPackage(*stored))
}

func mergeEdge(tx dbTypes.Tx, from uint64, kind model.RelationshipKind, to uint64, prov model.Provenance) error {
	rel, err := tx.Relationship(from, kind, to)
	if err != nil {
		return errors.WithStack(err)
	}
	if rel == nil {
		rel = &model.Relationship{From: from, Kind: kind, To: to}
	}
	rel.Sources = appendProvenance(rel.Sources, prov)
	return errors.WithStack(tx.PutRelationship(*rel))
}

func mergeVulnerability(tx dbTypes.Tx, v model.Vulnerability, prov model.Provenance) error {
	stored, err := tx.Vulnerability(v.ID)
	if err != nil {
		return errors.WithStack(err)
	}

	if stored == nil {
		v.AttributedBy = prov
		v.Sources = []model.Provenance{prov}
		return errors.WithStack(tx.PutVulnerability(v))
	}

	if model.MorePrecedent(prov, stored.AttributedBy, model.FamilyAdvisory) {
		if v.Summary != "" {
			stored.Summary = v.Summary
		}
		if v.Description != "" {
			stored.Description = v.Description
		}
		if v.Severity != nil {
			stored.Severity = v.Severity
		}
		if v.Published != nil {
			stored.Published = v.Published
		}
		if v.Modified != nil {
			stored.Modified = v.Modified
		}
		if v.Withdrawn != nil {
			stored.Withdrawn = v.Withdrawn
		}
		stored.AttributedBy = prov
	} else {
		// The losing source still fills gaps the winner never asserted.
		if stored.Summary == "" {
			stored.Summary = v.Summary
		}
		if stored.Description == "" {
			stored.Description = v.Description
		}
		if stored.Severity == nil {
			stored.Severity = v.Severity
		}
		if stored.Published == nil {
			stored.Published = v.Published
		}
		if stored.Modified == nil {
			stored.Modified = v.Modified
		}
		if stored.Withdrawn == nil {
			stored.Withdrawn = v.Withdrawn
		}
	}

	for _, alias := range v.Aliases {
		if !containsString(stored.Aliases, alias) {
			stored.Aliases = append(stored.Aliases, alias)
		}
	}
	stored.Sources = appendProvenance(stored.Sources, prov)

	return errors.WithStack(tx.PutVulnerability(*stored))
}

func mergeStatement(tx dbTypes.Tx, s model.Statement) error {
	stored, err := tx.Statement(s.Key())
	if err != nil {
		return errors.WithStack(err)
	}
	if stored == nil {
		stored = &model.Statement{
			VulnerabilityID: s.VulnerabilityID,
			PackageBase:     s.PackageBase,
			Range:           s.Range,
		}
	}

	for _, a := range s.Assertions {
		stored.Assertions = upsertAssertion(stored.Assertions, a)
	}
	stored.RecomputeDisputed()

	return errors.WithStack(tx.PutStatement(*stored))
}

// upsertAssertion keeps one assertion per source digest: re-asserting from
// the same document replaces, a new document adds. Nothing is dropped.
func upsertAssertion(as []model.Assertion, a model.Assertion) []model.Assertion {
	for i := range as {
		if as[i].Provenance.Digest == a.Provenance.Digest {
			as[i] = a
			return as
		}
	}
	return append(as, a)
}

func appendProvenance(ps []model.Provenance, p model.Provenance) []model.Provenance {
	for i := range ps {
		if ps[i].Digest == p.Digest {
			ps[i] = p
			return ps
		}
	}
	return append(ps, p)
}

func morePrecedentThanAll(p model.Provenance, against []model.Provenance, prefer model.SourceFamily) bool {
	for _, o := range against {
		if !model.MorePrecedent(p, o, prefer) {
			return false
		}
	}
	return true
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
