package model

import (
	"fmt"
	"strings"
	"time"
)

type SourceFamily string

const (
	FamilySBOM     SourceFamily = "sbom"
	FamilyAdvisory SourceFamily = "advisory"
)

type Provenance struct {
	Digest      string       `json:"digest"`
	Source      string       `json:"source,omitempty"`
	Format      string       `json:"format,omitempty"`
	Family      SourceFamily `json:"family,omitempty"`
	Recorded    time.Time    `json:"recorded"`
	DocModified *time.Time   `json:"doc_modified,omitempty"`
}

// MorePrecedent reports whether a outranks b when both assert the same fact.
// The document's own modified timestamp wins, ties fall to the preferred
// source family, and a final tie is broken by digest so the outcome is
// deterministic regardless of ingestion order.
func MorePrecedent(a, b Provenance, prefer SourceFamily) bool {
	am, bm := time.Time{}, time.Time{}
	if a.DocModified != nil {
		am = *a.DocModified
	}
	if b.DocModified != nil {
		bm = *b.DocModified
	}
	if !am.Equal(bm) {
		return am.After(bm)
	}
	if a.Family != b.Family {
		return a.Family == prefer
	}
	return a.Digest > b.Digest
}

type Package struct {
	Key      uint64 `json:"key,omitempty"`
	Identity string `json:"identity"`
	Base     string `json:"base"`

	Type       string            `json:"type"`
	Namespace  string            `json:"namespace,omitempty"`
	Name       string            `json:"name"`
	Version    string            `json:"version,omitempty"`
	Qualifiers map[string]string `json:"qualifiers,omitempty"`

	DeclaredName    string   `json:"declared_name,omitempty"`
	DeclaredVersion string   `json:"declared_version,omitempty"`
	CPEs            []string `json:"cpes,omitempty"`

	Sources []Provenance `json:"sources,omitempty"`
}

type RelationshipKind string

const (
	KindDependsOn RelationshipKind = "depends-on"
	KindContains  RelationshipKind = "contains"
	KindDescribes RelationshipKind = "describes"
)

// Edge is a relationship assertion within a normalized batch, keyed by
// package identity. The store resolves identities to surrogate keys.
type Edge struct {
	From string           `json:"from"`
	To   string           `json:"to"`
	Kind RelationshipKind `json:"kind"`
}

// Relationship is a persisted edge between surrogate package keys. Set
// semantics on (from, to, kind); additional sources append provenance.
type Relationship struct {
	From uint64           `json:"from"`
	To   uint64           `json:"to"`
	Kind RelationshipKind `json:"kind"`

	Sources []Provenance `json:"sources,omitempty"`
}

type Severity struct {
	Score  float64 `json:"score,omitempty"`
	Rating string  `json:"rating,omitempty"`
	Vector string  `json:"vector,omitempty"`
}

type Vulnerability struct {
	ID string `json:"id"`

	Summary     string     `json:"summary,omitempty"`
	Description string     `json:"description,omitempty"`
	Severity    *Severity  `json:"severity,omitempty"`
	Published   *time.Time `json:"published,omitempty"`
	Modified    *time.Time `json:"modified,omitempty"`
	Withdrawn   *time.Time `json:"withdrawn,omitempty"`
	Aliases     []string   `json:"aliases,omitempty"`

	// AttributedBy is the provenance of the source whose scalar attributes
	// currently win. Sources keeps every source that ever contributed.
	AttributedBy Provenance   `json:"attributed_by,omitempty"`
	Sources      []Provenance `json:"sources,omitempty"`
}

type StatementStatus string

const (
	StatusAffected           StatementStatus = "affected"
	StatusFixed              StatementStatus = "fixed"
	StatusNotAffected        StatementStatus = "not-affected"
	StatusUnderInvestigation StatementStatus = "under-investigation"
)

type Assertion struct {
	Status        StatementStatus `json:"status"`
	Justification string          `json:"justification,omitempty"`
	Provenance    Provenance      `json:"provenance"`
}

// Statement links a vulnerability to a package version range. Assertions
// accumulate per source and are never discarded; the effective status is
// computed over the full set at query time.
type Statement struct {
	VulnerabilityID string       `json:"vulnerability_id"`
	PackageBase     string       `json:"package_base"`
	Range           VersionRange `json:"range"`

	Assertions []Assertion `json:"assertions"`
	Disputed   bool        `json:"disputed,omitempty"`
}

func (s *Statement) Key() string {
	return s.VulnerabilityID + "|" + s.PackageBase + "|" + s.Range.Key()
}

// StatementKey is the parsed form of Statement.Key. The range portion stays
// opaque: it only ever round-trips back into a lookup key.
type StatementKey struct {
	VulnerabilityID string
	PackageBase     string
	RangeKey        string
}

func ParseStatementKey(key string) (StatementKey, error) {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return StatementKey{}, fmt.Errorf("invalid statement key %q", key)
	}
	return StatementKey{VulnerabilityID: parts[0], PackageBase: parts[1], RangeKey: parts[2]}, nil
}

// Effective picks the winning status by source precedence. It never returns
// an error: a statement always has at least one assertion by construction.
func (s *Statement) Effective() Assertion {
	best := s.Assertions[0]
	for _, a := range s.Assertions[1:] {
		if MorePrecedent(a.Provenance, best.Provenance, FamilyAdvisory) {
			best = a
		}
	}
	return best
}

// RecomputeDisputed refreshes the conflict marker from the assertion set.
func (s *Statement) RecomputeDisputed() {
	seen := map[StatementStatus]bool{}
	for _, a := range s.Assertions {
		seen[a.Status] = true
	}
	s.Disputed = len(seen) > 1
}

type DocumentStatus string

const (
	DocPending   DocumentStatus = "pending"
	DocProcessed DocumentStatus = "processed"
	DocFailed    DocumentStatus = "failed"
)

// DocumentRecord is the idempotency anchor: one record per distinct raw
// content digest, processed at most once for its semantic effects.
type DocumentRecord struct {
	Digest string `json:"digest"`
	Format string `json:"format"`
	Source string `json:"source,omitempty"`

	Status        DocumentStatus `json:"status"`
	FailureReason string         `json:"failure_reason,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	Roots []string `json:"roots,omitempty"`

	Packages        int `json:"packages,omitempty"`
	Relationships   int `json:"relationships,omitempty"`
	Vulnerabilities int `json:"vulnerabilities,omitempty"`
	Statements      int `json:"statements,omitempty"`
}

// Batch is the canonical output of one normalized document.
type Batch struct {
	Provenance Provenance

	Packages        []Package
	Edges           []Edge
	Vulnerabilities []Vulnerability
	Statements      []Statement
	Roots           []string
}
