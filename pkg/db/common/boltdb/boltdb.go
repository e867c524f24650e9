package boltdb

import (
	"fmt"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	dbTypes "github.com/crsche/trustify/pkg/db/common/types"
	"github.com/crsche/trustify/pkg/db/common/util"
	"github.com/crsche/trustify/pkg/model"
)

// boltdb: bucket:"metadata" key:"db" value:dbTypes.Metadata

// boltdb: bucket:"document" key:<digest> value:model.DocumentRecord

// boltdb: bucket:"package" -> bucket:"key" key:<key(be64)> value:model.Package
//                          -> bucket:"identity" key:<identity> value:<key(be64)>
//                          -> bucket:"base" -> bucket:<base> key:<key(be64)> value:nil

// boltdb: bucket:"vulnerability" key:<vulnerability id> value:model.Vulnerability

// boltdb: bucket:"relationship" -> bucket:"from" -> bucket:<from(be64)> key:<kind>#<to(be64)> value:model.Relationship
//                               -> bucket:"to" -> bucket:<to(be64)> key:<kind>#<from(be64)> value:model.Relationship

// boltdb: bucket:"statement" -> bucket:"base" -> bucket:<base> key:<statement key> value:model.Statement
//                            -> bucket:"vulnerability" -> bucket:<vulnerability id> key:<statement key> value:model.Statement

type Config struct {
	Path    string
	Options *bolt.Options
}

type Connection struct {
	Config *Config

	conn *bolt.DB
}

var roots = []string{"metadata", "document", "package", "vulnerability", "relationship", "statement"}

func (c *Connection) Open() error {
	if c.Config == nil {
		return errors.New("connection config is not set")
	}

	db, err := bolt.Open(c.Config.Path, 0600, c.Config.Options)
	if err != nil {
		return errors.WithStack(err)
	}
	c.conn = db
	return nil
}

func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Connection) Initialize() error {
	return c.conn.Update(func(tx *bolt.Tx) error {
		for _, root := range roots {
			if _, err := tx.CreateBucketIfNotExists([]byte(root)); err != nil {
				return errors.Wrapf(err, "create bucket:%q if not exists", root)
			}
		}

		pb := tx.Bucket([]byte("package"))
		for _, sub := range []string{"key", "identity", "base"} {
			if _, err := pb.CreateBucketIfNotExists([]byte(sub)); err != nil {
				return errors.Wrapf(err, "create bucket:%q if not exists", fmt.Sprintf("package:%s", sub))
			}
		}

		rb := tx.Bucket([]byte("relationship"))
		for _, sub := range []string{"from", "to"} {
			if _, err := rb.CreateBucketIfNotExists([]byte(sub)); err != nil {
				return errors.Wrapf(err, "create bucket:%q if not exists", fmt.Sprintf("relationship:%s", sub))
			}
		}

		sb := tx.Bucket([]byte("statement"))
		for _, sub := range []string{"base", "vulnerability"} {
			if _, err := sb.CreateBucketIfNotExists([]byte(sub)); err != nil {
				return errors.Wrapf(err, "create bucket:%q if not exists", fmt.Sprintf("statement:%s", sub))
			}
		}

		return nil
	})
}

func (c *Connection) DeleteAll() error {
	return c.conn.Update(func(tx *bolt.Tx) error {
		for _, root := range roots {
			if tx.Bucket([]byte(root)) == nil {
				continue
			}
			if err := tx.DeleteBucket([]byte(root)); err != nil {
				return errors.Wrapf(err, "delete bucket:%q", root)
			}
		}
		return nil
	})
}

func (c *Connection) GetMetadata() (*dbTypes.Metadata, error) {
	var v dbTypes.Metadata
	if err := c.conn.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("metadata"))
		if b == nil {
			return errors.Errorf("bucket:%q is not exists", "metadata")
		}

		if err := util.Unmarshal(b.Get([]byte("db")), false, &v); err != nil {
			return errors.Wrap(err, "unmarshal metadata:db")
		}

		return nil
	}); err != nil {
		return nil, errors.WithStack(err)
	}
	return &v, nil
}

func (c *Connection) PutMetadata(metadata dbTypes.Metadata) error {
	return c.conn.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte("metadata"))
		if err != nil {
			return errors.Wrapf(err, "create bucket:%q if not exists", "metadata")
		}

		bs, err := util.Marshal(metadata, false)
		if err != nil {
			return errors.Wrap(err, "marshal metadata")
		}

		if err := b.Put([]byte("db"), bs); err != nil {
			return errors.Wrap(err, "put metadata:db")
		}

		return nil
	})
}

func (c *Connection) View(fn func(dbTypes.Tx) error) error {
	return c.conn.View(func(tx *bolt.Tx) error {
		return fn(&transaction{tx: tx})
	})
}

func (c *Connection) Update(fn func(dbTypes.Tx) error) error {
	return c.conn.Update(func(tx *bolt.Tx) error {
		return fn(&transaction{tx: tx})
	})
}

type transaction struct {
	tx *bolt.Tx
}

func (t *transaction) Document(digest string) (*model.DocumentRecord, error) {
	b := t.tx.Bucket([]byte("document"))
	if b == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "document")
	}

	bs := b.Get([]byte(digest))
	if len(bs) == 0 {
		return nil, nil
	}

	var v model.DocumentRecord
	if err := util.Unmarshal(bs, true, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal document:%s", digest)
	}
	return &v, nil
}

func (t *transaction) PutDocument(doc model.DocumentRecord) error {
	b := t.tx.Bucket([]byte("document"))
	if b == nil {
		return errors.Errorf("bucket:%q is not exists", "document")
	}

	bs, err := util.Marshal(doc, true)
	if err != nil {
		return errors.Wrap(err, "marshal document")
	}

	if err := b.Put([]byte(doc.Digest), bs); err != nil {
		return errors.Wrapf(err, "put document:%s", doc.Digest)
	}
	return nil
}

func (t *transaction) Documents() ([]model.DocumentRecord, error) {
	b := t.tx.Bucket([]byte("document"))
	if b == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "document")
	}

	var vs []model.DocumentRecord
	if err := b.ForEach(func(k, v []byte) error {
		var d model.DocumentRecord
		if err := util.Unmarshal(v, true, &d); err != nil {
			return errors.Wrapf(err, "unmarshal document:%s", string(k))
		}
		vs = append(vs, d)
		return nil
	}); err != nil {
		return nil, errors.WithStack(err)
	}
	return vs, nil
}

func (t *transaction) NextPackageKey() (uint64, error) {
	b := t.tx.Bucket([]byte("package"))
	if b == nil {
		return 0, errors.Errorf("bucket:%q is not exists", "package")
	}

	k, err := b.NextSequence()
	if err != nil {
		return 0, errors.Wrap(err, "next package sequence")
	}
	return k, nil
}

func (t *transaction) Package(identity string) (*model.Package, error) {
	pb := t.tx.Bucket([]byte("package"))
	if pb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "package")
	}

	ib := pb.Bucket([]byte("identity"))
	if ib == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "package:identity")
	}

	bs := ib.Get([]byte(identity))
	if len(bs) == 0 {
		return nil, nil
	}

	key, err := util.ParseU64Key(bs)
	if err != nil {
		return nil, errors.Wrapf(err, "parse key for package:identity:%s", identity)
	}
	return t.PackageByKey(key)
}

func (t *transaction) PackageByKey(key uint64) (*model.Package, error) {
	pb := t.tx.Bucket([]byte("package"))
	if pb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "package")
	}

	kb := pb.Bucket([]byte("key"))
	if kb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "package:key")
	}

	bs := kb.Get(util.U64Key(key))
	if len(bs) == 0 {
		return nil, nil
	}

	var v model.Package
	if err := util.Unmarshal(bs, true, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal package:key:%d", key)
	}
	return &v, nil
}

func (t *transaction) PackagesByBase(base string) ([]model.Package, error) {
	pb := t.tx.Bucket([]byte("package"))
	if pb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "package")
	}

	bb := pb.Bucket([]byte("base"))
	if bb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "package:base")
	}

	ib := bb.Bucket([]byte(base))
	if ib == nil {
		return nil, nil
	}

	var vs []model.Package
	if err := ib.ForEach(func(k, _ []byte) error {
		key, err := util.ParseU64Key(k)
		if err != nil {
			return errors.Wrapf(err, "parse key in package:base:%s", base)
		}
		p, err := t.PackageByKey(key)
		if err != nil {
			return errors.WithStack(err)
		}
		if p == nil {
			return errors.Errorf("package:key:%d indexed but not found", key)
		}
		vs = append(vs, *p)
		return nil
	}); err != nil {
		return nil, errors.WithStack(err)
	}
	return vs, nil
}

func (t *transaction) PutPackage(p model.Package) error {
	pb := t.tx.Bucket([]byte("package"))
	if pb == nil {
		return errors.Errorf("bucket:%q is not exists", "package")
	}

	kb := pb.Bucket([]byte("key"))
	if kb == nil {
		return errors.Errorf("bucket:%q is not exists", "package:key")
	}

	bs, err := util.Marshal(p, true)
	if err != nil {
		return errors.Wrap(err, "marshal package")
	}
	if err := kb.Put(util.U64Key(p.Key), bs); err != nil {
		return errors.Wrapf(err, "put package:key:%d", p.Key)
	}

	ib := pb.Bucket([]byte("identity"))
	if ib == nil {
		return errors.Errorf("bucket:%q is not exists", "package:identity")
	}
	if err := ib.Put([]byte(p.Identity), util.U64Key(p.Key)); err != nil {
		return errors.Wrapf(err, "put package:identity:%s", p.Identity)
	}

	bb := pb.Bucket([]byte("base"))
	if bb == nil {
		return errors.Errorf("bucket:%q is not exists", "package:base")
	}
	bib, err := bb.CreateBucketIfNotExists([]byte(p.Base))
	if err != nil {
		return errors.Wrapf(err, "create bucket:%q if not exists", fmt.Sprintf("package:base:%s", p.Base))
	}
	if err := bib.Put(util.U64Key(p.Key), nil); err != nil {
		return errors.Wrapf(err, "put package:base:%s:%d", p.Base, p.Key)
	}

	return nil
}

func (t *transaction) Vulnerability(id string) (*model.Vulnerability, error) {
	b := t.tx.Bucket([]byte("vulnerability"))
	if b == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "vulnerability")
	}

	bs := b.Get([]byte(id))
	if len(bs) == 0 {
		return nil, nil
	}

	var v model.Vulnerability
	if err := util.Unmarshal(bs, true, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal vulnerability:%s", id)
	}
	return &v, nil
}

func (t *transaction) PutVulnerability(v model.Vulnerability) error {
	b := t.tx.Bucket([]byte("vulnerability"))
	if b == nil {
		return errors.Errorf("bucket:%q is not exists", "vulnerability")
	}

	bs, err := util.Marshal(v, true)
	if err != nil {
		return errors.Wrap(err, "marshal vulnerability")
	}

	if err := b.Put([]byte(v.ID), bs); err != nil {
		return errors.Wrapf(err, "put vulnerability:%s", v.ID)
	}
	return nil
}

func relationshipKey(kind model.RelationshipKind, other uint64) []byte {
	return append([]byte(string(kind)+"#"), util.U64Key(other)...)
}

func (t *transaction) Relationship(from uint64, kind model.RelationshipKind, to uint64) (*model.Relationship, error) {
	rb := t.tx.Bucket([]byte("relationship"))
	if rb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "relationship")
	}

	fb := rb.Bucket([]byte("from"))
	if fb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "relationship:from")
	}

	ffb := fb.Bucket(util.U64Key(from))
	if ffb == nil {
		return nil, nil
	}

	bs := ffb.Get(relationshipKey(kind, to))
	if len(bs) == 0 {
		return nil, nil
	}

	var v model.Relationship
	if err := util.Unmarshal(bs, true, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal relationship:from:%d:%s:%d", from, kind, to)
	}
	return &v, nil
}

func (t *transaction) relationships(index string, key uint64) ([]model.Relationship, error) {
	rb := t.tx.Bucket([]byte("relationship"))
	if rb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "relationship")
	}

	ib := rb.Bucket([]byte(index))
	if ib == nil {
		return nil, errors.Errorf("bucket:%q is not exists", fmt.Sprintf("relationship:%s", index))
	}

	kb := ib.Bucket(util.U64Key(key))
	if kb == nil {
		return nil, nil
	}

	var vs []model.Relationship
	if err := kb.ForEach(func(_, v []byte) error {
		var r model.Relationship
		if err := util.Unmarshal(v, true, &r); err != nil {
			return errors.Wrapf(err, "unmarshal relationship:%s:%d", index, key)
		}
		vs = append(vs, r)
		return nil
	}); err != nil {
		return nil, errors.WithStack(err)
	}
	return vs, nil
}

func (t *transaction) RelationshipsFrom(from uint64) ([]model.Relationship, error) {
	return t.relationships("from", from)
}

func (t *transaction) RelationshipsTo(to uint64) ([]model.Relationship, error) {
	return t.relationships("to", to)
}

func (t *transaction) PutRelationship(r model.Relationship) error {
	rb := t.tx.Bucket([]byte("relationship"))
	if rb == nil {
		return errors.Errorf("bucket:%q is not exists", "relationship")
	}

	bs, err := util.Marshal(r, true)
	if err != nil {
		return errors.Wrap(err, "marshal relationship")
	}

	fb := rb.Bucket([]byte("from"))
	if fb == nil {
		return errors.Errorf("bucket:%q is not exists", "relationship:from")
	}
	ffb, err := fb.CreateBucketIfNotExists(util.U64Key(r.From))
	if err != nil {
		return errors.Wrapf(err, "create bucket:%q if not exists", fmt.Sprintf("relationship:from:%d", r.From))
	}
	if err := ffb.Put(relationshipKey(r.Kind, r.To), bs); err != nil {
		return errors.Wrapf(err, "put relationship:from:%d:%s:%d", r.From, r.Kind, r.To)
	}

	tb := rb.Bucket([]byte("to"))
	if tb == nil {
		return errors.Errorf("bucket:%q is not exists", "relationship:to")
	}
	ttb, err := tb.CreateBucketIfNotExists(util.U64Key(r.To))
	if err != nil {
		return errors.Wrapf(err, "create bucket:%q if not exists", fmt.Sprintf("relationship:to:%d", r.To))
	}
	if err := ttb.Put(relationshipKey(r.Kind, r.From), bs); err != nil {
		return errors.Wrapf(err, "put relationship:to:%d:%s:%d", r.To, r.Kind, r.From)
	}

	return nil
}

func (t *transaction) Statement(key string) (*model.Statement, error) {
	parsed, err := model.ParseStatementKey(key)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	sb := t.tx.Bucket([]byte("statement"))
	if sb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "statement")
	}

	bb := sb.Bucket([]byte("base"))
	if bb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "statement:base")
	}

	bsb := bb.Bucket([]byte(parsed.PackageBase))
	if bsb == nil {
		return nil, nil
	}

	bs := bsb.Get([]byte(key))
	if len(bs) == 0 {
		return nil, nil
	}

	var v model.Statement
	if err := util.Unmarshal(bs, true, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal statement:%s", key)
	}
	return &v, nil
}

func (t *transaction) statements(index, bucket string) ([]model.Statement, error) {
	sb := t.tx.Bucket([]byte("statement"))
	if sb == nil {
		return nil, errors.Errorf("bucket:%q is not exists", "statement")
	}

	ib := sb.Bucket([]byte(index))
	if ib == nil {
		return nil, errors.Errorf("bucket:%q is not exists", fmt.Sprintf("statement:%s", index))
	}

	bb := ib.Bucket([]byte(bucket))
	if bb == nil {
		return nil, nil
	}

	var vs []model.Statement
	if err := bb.ForEach(func(k, v []byte) error {
		var s model.Statement
		if err := util.Unmarshal(v, true, &s); err != nil {
			return errors.Wrapf(err, "unmarshal statement:%s", string(k))
		}
		vs = append(vs, s)
		return nil
	}); err != nil {
		return nil, errors.WithStack(err)
	}
	return vs, nil
}

func (t *transaction) StatementsByBase(base string) ([]model.Statement, error) {
	return t.statements("base", base)
}

func (t *transaction) StatementsByVulnerability(id string) ([]model.Statement, error) {
	return t.statements("vulnerability", id)
}

func (t *transaction) PutStatement(s model.Statement) error {
	sb := t.tx.Bucket([]byte("statement"))
	if sb == nil {
		return errors.Errorf("bucket:%q is not exists", "statement")
	}

	bs, err := util.Marshal(s, true)
	if err != nil {
		return errors.Wrap(err, "marshal statement")
	}
	key := []byte(s.Key())

	bb := sb.Bucket([]byte("base"))
	if bb == nil {
		return errors.Errorf("bucket:%q is not exists", "statement:base")
	}
	bsb, err := bb.CreateBucketIfNotExists([]byte(s.PackageBase))
	if err != nil {
		return errors.Wrapf(err, "create bucket:%q if not exists", fmt.Sprintf("statement:base:%s", s.PackageBase))
	}
	if err := bsb.Put(key, bs); err != nil {
		return errors.Wrapf(err, "put statement:base:%s", s.Key())
	}

	vb := sb.Bucket([]byte("vulnerability"))
	if vb == nil {
		return errors.Errorf("bucket:%q is not exists", "statement:vulnerability")
	}
	vsb, err := vb.CreateBucketIfNotExists([]byte(s.VulnerabilityID))
	if err != nil {
		return errors.Wrapf(err, "create bucket:%q if not exists", fmt.Sprintf("statement:vulnerability:%s", s.VulnerabilityID))
	}
	if err := vsb.Put(key, bs); err != nil {
		return errors.Wrapf(err, "put statement:vulnerability:%s", s.Key())
	}

	return nil
}
