package graph

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	db "github.com/crsche/trustify/pkg/db/common"
	utilos "github.com/crsche/trustify/pkg/util/os"
)

type options struct {
	dbtype string
	dbpath string

	debug bool
}

type Option interface {
	apply(*options)
}

type dbtypeOption string

func (o dbtypeOption) apply(opts *options) {
	opts.dbtype = string(o)
}

func WithDBType(dbtype string) Option {
	return dbtypeOption(dbtype)
}

type dbpathOption string

func (o dbpathOption) apply(opts *options) {
	opts.dbpath = string(o)
}

func WithDBPath(dbpath string) Option {
	return dbpathOption(dbpath)
}

type debugOption bool

func (o debugOption) apply(opts *options) {
	opts.debug = bool(o)
}

func WithDebug(debug bool) Option {
	return debugOption(debug)
}

const (
	QueryVulnerability = "vulnerability"
	QueryPackage       = "package"
	QueryDocument      = "document"
	QueryDocuments     = "documents"
)

// Query runs one correlation query and prints the results to stdout.
func Query(queryType string, queries []string, opts ...Option) error {
	options := &options{
		dbtype: "boltdb",
		dbpath: filepath.Join(utilos.UserCacheDir(), "trustify.db"),
		debug:  false,
	}
	for _, o := range opts {
		o.apply(options)
	}

	dbc, err := (&db.Config{
		Type:  options.dbtype,
		Path:  options.dbpath,
		Debug: options.debug,
	}).New()
	if err != nil {
		return errors.Wrap(err, "new db connection")
	}
	if err := dbc.Open(); err != nil {
		return errors.Wrap(err, "open db")
	}
	defer dbc.Close()

	meta, err := dbc.GetMetadata()
	if err != nil || meta == nil {
		return errors.Wrap(err, "get metadata")
	}
	if meta.SchemaVersion < db.SchemaVersion {
		return errors.Errorf("schema version is old. expected: %q, actual: %q", db.SchemaVersion, meta.SchemaVersion)
	}

	engine := New(dbc)

	e := json.NewEncoder(os.Stdout)
	e.SetIndent("", "  ")
	e.SetEscapeHTML(false)
	switch queryType {
	case QueryVulnerability:
		for _, q := range queries {
			fs, err := engine.ImpactOf(q)
			if err != nil {
				return errors.Wrapf(err, "impact of %s", q)
			}
			for _, f := range fs {
				if err := e.Encode(f); err != nil {
					return errors.Wrapf(err, "encode %s", q)
				}
			}
		}
		return nil
	case QueryPackage:
		for _, q := range queries {
			fs, err := engine.VulnerabilitiesFor(q)
			if err != nil {
				return errors.Wrapf(err, "vulnerabilities for %s", q)
			}
			for _, f := range fs {
				if err := e.Encode(f); err != nil {
					return errors.Wrapf(err, "encode %s", q)
				}
			}
		}
		return nil
	case QueryDocument:
		for _, q := range queries {
			rec, err := engine.DocumentStatus(q)
			if err != nil {
				return errors.Wrapf(err, "document %s", q)
			}
			if rec == nil {
				return errors.Errorf("document %s not found", q)
			}
			if err := e.Encode(rec); err != nil {
				return errors.Wrapf(err, "encode %s", q)
			}
		}
		return nil
	case QueryDocuments:
		recs, err := engine.Documents()
		if err != nil {
			return errors.Wrap(err, "list documents")
		}
		for _, rec := range recs {
			if err := e.Encode(rec); err != nil {
				return errors.Wrapf(err, "encode %s", rec.Digest)
			}
		}
		return nil
	default:
		return errors.Errorf("%s is not support query type", queryType)
	}
}
