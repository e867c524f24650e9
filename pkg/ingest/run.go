package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	db "github.com/crsche/trustify/pkg/db/common"
	storageFS "github.com/crsche/trustify/pkg/storage/fs"
	utilos "github.com/crsche/trustify/pkg/util/os"
)

type options struct {
	dbtype     string
	dbpath     string
	storageDir string

	format      string
	source      string
	concurrency int

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

type storageDirOption string

func (o storageDirOption) apply(opts *options) {
	opts.storageDir = string(o)
}

func WithStorageDir(dir string) Option {
	return storageDirOption(dir)
}

type formatOption string

func (o formatOption) apply(opts *options) {
	opts.format = string(o)
}

func WithFormat(format string) Option {
	return formatOption(format)
}

type sourceOption string

func (o sourceOption) apply(opts *options) {
	opts.source = string(o)
}

func WithSource(source string) Option {
	return sourceOption(source)
}

type concurrencyOption int

func (o concurrencyOption) apply(opts *options) {
	opts.concurrency = int(o)
}

func WithConcurrency(concurrency int) Option {
	return concurrencyOption(concurrency)
}

type debugOption bool

func (o debugOption) apply(opts *options) {
	opts.debug = bool(o)
}

func WithDebug(debug bool) Option {
	return debugOption(debug)
}

// Run ingests the documents at the given paths and prints one record per
// document to stdout. A document that fails to parse is recorded and
// reported, but does not stop the others.
func Run(paths []string, opts ...Option) error {
	options := &options{
		dbtype:      "boltdb",
		dbpath:      filepath.Join(utilos.UserCacheDir(), "trustify.db"),
		storageDir:  filepath.Join(utilos.UserCacheDir(), "documents"),
		concurrency: 4,
		debug:       false,
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

	store, err := storageFS.Open(options.storageDir)
	if err != nil {
		return errors.Wrapf(err, "open %s", options.storageDir)
	}
	defer store.Close()

	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		source := options.source
		if source == "" {
			source = path
		}
		docs = append(docs, Document{Raw: raw, FormatHint: options.format, Source: source})
	}

	results := New(store, dbc).IngestAll(context.Background(), docs, options.concurrency)

	e := json.NewEncoder(os.Stdout)
	e.SetIndent("", "  ")
	e.SetEscapeHTML(false)

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		if err := e.Encode(r.Record); err != nil {
			return errors.Wrapf(err, "encode %s", r.Digest)
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d documents failed", failed, len(results))
	}

	return nil
}
