package rdb

import (
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbTypes "github.com/crsche/trustify/pkg/db/common/types"
	"github.com/crsche/trustify/pkg/db/common/util"
	"github.com/crsche/trustify/pkg/model"
)

type Config struct {
	Type    string
	Path    string
	Options []gorm.Option
}

type Connection struct {
	Config *Config

	conn *gorm.DB
}

type metadataModel struct {
	ID   uint `gorm:"primarykey"`
	Data []byte
}

func (metadataModel) TableName() string { return "metadata" }

type documentModel struct {
	Digest string `gorm:"primaryKey;size:64"`
	Data   []byte
}

func (documentModel) TableName() string { return "documents" }

type packageModel struct {
	Key      uint64 `gorm:"primaryKey;autoIncrement:false"`
	Identity string `gorm:"uniqueIndex;size:768"`
	Base     string `gorm:"index;size:768"`
	Data     []byte
}

func (packageModel) TableName() string { return "packages" }

type vulnerabilityModel struct {
	ID   string `gorm:"primaryKey;size:128"`
	Data []byte
}

func (vulnerabilityModel) TableName() string { return "vulnerabilities" }

type relationshipModel struct {
	From uint64 `gorm:"column:from_key;primaryKey;autoIncrement:false"`
	Kind string `gorm:"primaryKey;size:32"`
	To   uint64 `gorm:"column:to_key;primaryKey;autoIncrement:false;index"`
	Data []byte
}

func (relationshipModel) TableName() string { return "relationships" }

type statementModel struct {
	Key             string `gorm:"primaryKey;size:768"`
	Base            string `gorm:"index;size:768"`
	VulnerabilityID string `gorm:"index;size:128"`
	Data            []byte
}

func (statementModel) TableName() string { return "statements" }

type sequenceModel struct {
	Name  string `gorm:"primaryKey;size:32"`
	Value uint64
}

func (sequenceModel) TableName() string { return "sequences" }

func (c *Connection) Open() error {
	if c.Config == nil {
		return errors.New("connection config is not set")
	}

	// TranslateError is required for translate to see unique violations as
	// gorm.ErrDuplicatedKey.
	opts := c.Config.Options
	if len(opts) == 0 {
		opts = []gorm.Option{&gorm.Config{TranslateError: true}}
	}

	switch c.Config.Type {
	case "sqlite3":
		db, err := gorm.Open(sqlite.Open(c.Config.Path), opts...)
		if err != nil {
			return errors.WithStack(err)
		}
		c.conn = db
		return nil
	case "mysql":
		db, err := gorm.Open(mysql.Open(c.Config.Path), opts...)
		if err != nil {
			return errors.WithStack(err)
		}
		c.conn = db
		return nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(c.Config.Path), opts...)
		if err != nil {
			return errors.WithStack(err)
		}
		c.conn = db
		return nil
	default:
		return errors.Errorf("%s is not support rdb dbtype", c.Config.Type)
	}
}

func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	db, err := c.conn.DB()
	if err != nil {
		return errors.Wrap(err, "get *sql.DB")
	}
	return db.Close()
}

func (c *Connection) Initialize() error {
	if err := c.conn.AutoMigrate(&metadataModel{}, &documentModel{}, &packageModel{}, &vulnerabilityModel{}, &relationshipModel{}, &statementModel{}, &sequenceModel{}); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}

func (c *Connection) DeleteAll() error {
	for _, m := range []any{&metadataModel{}, &documentModel{}, &packageModel{}, &vulnerabilityModel{}, &relationshipModel{}, &statementModel{}, &sequenceModel{}} {
		if err := c.conn.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (c *Connection) GetMetadata() (*dbTypes.Metadata, error) {
	var m metadataModel
	if err := c.conn.First(&m, 1).Error; err != nil {
		return nil, errors.Wrap(err, "get metadata")
	}

	var v dbTypes.Metadata
	if err := util.Unmarshal(m.Data, false, &v); err != nil {
		return nil, errors.Wrap(err, "unmarshal metadata")
	}
	return &v, nil
}

func (c *Connection) PutMetadata(metadata dbTypes.Metadata) error {
	bs, err := util.Marshal(metadata, false)
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	if err := c.conn.Clauses(clause.OnConflict{UpdateAll: true}).Create(&metadataModel{ID: 1, Data: bs}).Error; err != nil {
		return errors.Wrap(err, "put metadata")
	}
	return nil
}

func (c *Connection) View(fn func(dbTypes.Tx) error) error {
	return translate(c.conn.Transaction(func(tx *gorm.DB) error {
		return fn(&transaction{tx: tx})
	}))
}

func (c *Connection) Update(fn func(dbTypes.Tx) error) error {
	return translate(c.conn.Transaction(func(tx *gorm.DB) error {
		return fn(&transaction{tx: tx})
	}))
}

// translate maps races between concurrent transactions onto
// dbTypes.ErrWriteConflict so callers can retry.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return dbTypes.ErrWriteConflict
	}
	msg := err.Error()
	for _, marker := range []string{
		"SQLSTATE 40001", // postgres serialization failure
		"SQLSTATE 40P01", // postgres deadlock detected
		"Error 1213",     // mysql deadlock found
		"Error 1205",     // mysql lock wait timeout
	} {
		if strings.Contains(msg, marker) {
			return dbTypes.ErrWriteConflict
		}
	}
	return err
}

type transaction struct {
	tx *gorm.DB
}

func (t *transaction) Document(digest string) (*model.DocumentRecord, error) {
	var m documentModel
	if err := t.tx.Where("digest = ?", digest).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get document %s", digest)
	}

	var v model.DocumentRecord
	if err := util.Unmarshal(m.Data, true, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal document %s", digest)
	}
	return &v, nil
}

func (t *transaction) PutDocument(doc model.DocumentRecord) error {
	bs, err := util.Marshal(doc, true)
	if err != nil {
		return errors.Wrap(err, "marshal document")
	}
	if err := t.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&documentModel{Digest: doc.Digest, Data: bs}).Error; err != nil {
		return errors.Wrapf(err, "put document %s", doc.Digest)
	}
	return nil
}

func (t *transaction) Documents() ([]model.DocumentRecord, error) {
	var ms []documentModel
	if err := t.tx.Order("digest").Find(&ms).Error; err != nil {
		return nil, errors.Wrap(err, "list documents")
	}

	vs := make([]model.DocumentRecord, 0, len(ms))
	for _, m := range ms {
		var v model.DocumentRecord
		if err := util.Unmarshal(m.Data, true, &v); err != nil {
			return nil, errors.Wrapf(err, "unmarshal document %s", m.Digest)
		}
		vs = append(vs, v)
	}
	return vs, nil
}

func (t *transaction) NextPackageKey() (uint64, error) {
	var s sequenceModel
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("name = ?", "package").First(&s).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s = sequenceModel{Name: "package", Value: 1}
		if err := t.tx.Create(&s).Error; err != nil {
			return 0, errors.Wrap(err, "create package sequence")
		}
		return s.Value, nil
	case err != nil:
		return 0, errors.Wrap(err, "get package sequence")
	default:
		s.Value++
		if err := t.tx.Save(&s).Error; err != nil {
			return 0, errors.Wrap(err, "advance package sequence")
		}
		return s.Value, nil
	}
}

func (t *transaction) Package(identity string) (*model.Package, error) {
	var m packageModel
	if err := t.tx.Where("identity = ?", identity).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get package %s", identity)
	}
	return unmarshalPackage(m)
}

func (t *transaction) PackageByKey(key uint64) (*model.Package, error) {
	var m packageModel
	if err := t.tx.Where("key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get package %d", key)
	}
	return unmarshalPackage(m)
}

func (t *transaction) PackagesByBase(base string) ([]model.Package, error) {
	var ms []packageModel
	if err := t.tx.Where("base = ?", base).Order("key").Find(&ms).Error; err != nil {
		return nil, errors.Wrapf(err, "list packages for %s", base)
	}

	vs := make([]model.Package, 0, len(ms))
	for _, m := range ms {
		p, err := unmarshalPackage(m)
		if err != nil {
			return nil, err
		}
		vs = append(vs, *p)
	}
	return vs, nil
}

func unmarshalPackage(m packageModel) (*model.Package, error) {
	var v model.Package
	if err := util.Unmarshal(m.Data, true, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal package %s", m.Identity)
	}
	return &v, nil
}

func (t *transaction) PutPackage(p model.Package) error {
	bs, err := util.Marshal(p, true)
	if err != nil {
		return errors.Wrap(err, "marshal package")
	}
	if err := t.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&packageModel{Key: p.Key, Identity: p.Identity, Base: p.Base, Data: bs}).Error; err != nil {
		return errors.Wrapf(err, "put package %s", p.Identity)
	}
	return nil
}

func (t *transaction) Vulnerability(id string) (*model.Vulnerability, error) {
	var m vulnerabilityModel
	if err := t.tx.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get vulnerability %s", id)
	}

	var v model.Vulnerability
	if err := util.Unmarshal(m.Data, true, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal vulnerability %s", id)
	}
	return &v, nil
}

func (t *transaction) PutVulnerability(v model.Vulnerability) error {
	bs, err := util.Marshal(v, true)
	if err != nil {
		return errors.Wrap(err, "marshal vulnerability")
	}
	if err := t.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&vulnerabilityModel{ID: v.ID, Data: bs}).Error; err != nil {
		return errors.Wrapf(err, "put vulnerability %s", v.ID)
	}
	return nil
}

func (t *transaction) Relationship(from uint64, kind model.RelationshipKind, to uint64) (*model.Relationship, error) {
	var m relationshipModel
	if err := t.tx.Where("from_key = ? AND kind = ? AND to_key = ?", from, string(kind), to).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get relationship %d %s %d", from, kind, to)
	}
	return unmarshalRelationship(m)
}

func (t *transaction) RelationshipsFrom(from uint64) ([]model.Relationship, error) {
	return t.relationships("from_key = ?", from)
}

func (t *transaction) RelationshipsTo(to uint64) ([]model.Relationship, error) {
	return t.relationships("to_key = ?", to)
}

func (t *transaction) relationships(cond string, key uint64) ([]model.Relationship, error) {
	var ms []relationshipModel
	if err := t.tx.Where(cond, key).Order("kind").Find(&ms).Error; err != nil {
		return nil, errors.Wrapf(err, "list relationships %d", key)
	}

	vs := make([]model.Relationship, 0, len(ms))
	for _, m := range ms {
		r, err := unmarshalRelationship(m)
		if err != nil {
			return nil, err
		}
		vs = append(vs, *r)
	}
	return vs, nil
}

func unmarshalRelationship(m relationshipModel) (*model.Relationship, error) {
	var v model.Relationship
	if err := util.Unmarshal(m.Data, true, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal relationship %d %s %d", m.From, m.Kind, m.To)
	}
	return &v, nil
}

func (t *transaction) PutRelationship(r model.Relationship) error {
	bs, err := util.Marshal(r, true)
	if err != nil {
		return errors.Wrap(err, "marshal relationship")
	}
	if err := t.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&relationshipModel{From: r.From, Kind: string(r.Kind), To: r.To, Data: bs}).Error; err != nil {
		return errors.Wrapf(err, "put relationship %d %s %d", r.From, r.Kind, r.To)
	}
	return nil
}

func (t *transaction) Statement(key string) (*model.Statement, error) {
	var m statementModel
	if err := t.tx.Where("key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get statement %s", key)
	}
	return unmarshalStatement(m)
}

func (t *transaction) StatementsByBase(base string) ([]model.Statement, error) {
	return t.statements("base = ?", base)
}

func (t *transaction) StatementsByVulnerability(id string) ([]model.Statement, error) {
	return t.statements("vulnerability_id = ?", id)
}

func (t *transaction) statements(cond, arg string) ([]model.Statement, error) {
	var ms []statementModel
	if err := t.tx.Where(cond, arg).Order("key").Find(&ms).Error; err != nil {
		return nil, errors.Wrapf(err, "list statements for %s", arg)
	}

	vs := make([]model.Statement, 0, len(ms))
	for _, m := range ms {
		s, err := unmarshalStatement(m)
		if err != nil {
			return nil, err
		}
		vs = append(vs, *s)
	}
	return vs, nil
}

func unmarshalStatement(m statementModel) (*model.Statement, error) {
	var v model.Statement
	if err := util.Unmarshal(m.Data, true, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal statement %s", m.Key)
	}
	return &v, nil
}

func (t *transaction) PutStatement(s model.Statement) error {
	bs, err := util.Marshal(s, true)
	if err != nil {
		return errors.Wrap(err, "marshal statement")
	}
	if err := t.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&statementModel{Key: s.Key(), Base: s.PackageBase, VulnerabilityID: s.VulnerabilityID, Data: bs}).Error; err != nil {
		return errors.Wrapf(err, "put statement %s", s.Key())
	}
	return nil
}
