package types

import (
	"time"

	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/model"
)

// ErrWriteConflict reports that a transactional write raced another writer
// and should be retried. The boltdb backend never returns it; relational
// backends translate unique violations and serialization failures into it.
var ErrWriteConflict = errors.New("write conflict")

type Metadata struct {
	SchemaVersion uint      `json:"schema_version,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	LastModified  time.Time `json:"last_modified,omitempty"`
}

// Tx exposes the entity operations available inside a transaction. Reads
// inside View and writes inside Update see a consistent snapshot; everything
// written in one Update callback commits or rolls back together.
type Tx interface {
	Document(digest string) (*model.DocumentRecord, error)
	PutDocument(model.DocumentRecord) error
	Documents() ([]model.DocumentRecord, error)

	NextPackageKey() (uint64, error)
	Package(identity string) (*model.Package, error)
	PackageByKey(key uint64) (*model.Package, error)
	PackagesByBase(base string) ([]model.Package, error)
	PutPackage(model.Package) error

	Vulnerability(id string) (*model.Vulnerability, error)
	PutVulnerability(model.Vulnerability) error

	Relationship(from uint64, kind model.RelationshipKind, to uint64) (*model.Relationship, error)
	RelationshipsFrom(from uint64) ([]model.Relationship, error)
	RelationshipsTo(to uint64) ([]model.Relationship, error)
	PutRelationship(model.Relationship) error

	Statement(key string) (*model.Statement, error)
	StatementsByBase(base string) ([]model.Statement, error)
	StatementsByVulnerability(id string) ([]model.Statement, error)
	PutStatement(model.Statement) error
}
