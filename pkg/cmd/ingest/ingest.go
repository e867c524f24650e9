package ingest

import (
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	utilflag "github.com/crsche/trustify/pkg/cmd/util/flag"
	"github.com/crsche/trustify/pkg/ingest"
	utilos "github.com/crsche/trustify/pkg/util/os"
)

func NewCmd() *cobra.Command {
	options := struct {
		dbtype      utilflag.DBType
		dbpath      string
		storageDir  string
		format      utilflag.Format
		source      string
		concurrency int
		debug       bool
	}{
		dbtype:      utilflag.DBTypeBoltDB,
		dbpath:      filepath.Join(utilos.UserCacheDir(), "trustify.db"),
		storageDir:  filepath.Join(utilos.UserCacheDir(), "documents"),
		concurrency: 4,
		debug:       false,
	}

	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "ingest SBOM and advisory documents",
		Example: heredoc.Doc(`
		$ trustify ingest sbom.cdx.json
		$ trustify ingest --format osv --source osv.dev advisories/*.json
		`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := ingest.Run(args, ingest.WithDBType(options.dbtype.String()), ingest.WithDBPath(options.dbpath), ingest.WithStorageDir(options.storageDir), ingest.WithFormat(options.format.String()), ingest.WithSource(options.source), ingest.WithConcurrency(options.concurrency), ingest.WithDebug(options.debug)); err != nil {
				return errors.Wrap(err, "ingest")
			}
			return nil
		},
	}

	cmd.Flags().VarP(&options.dbtype, "dbtype", "", "trustify db type (default: boltdb, accepts: [boltdb, redis, sqlite3, mysql, postgres])")
	_ = cmd.RegisterFlagCompletionFunc("dbtype", utilflag.DBTypeCompletion)
	cmd.Flags().StringVarP(&options.dbpath, "dbpath", "", options.dbpath, "trustify db path")
	cmd.Flags().StringVarP(&options.storageDir, "storage-dir", "", options.storageDir, "raw document storage path")
	cmd.Flags().VarP(&options.format, "format", "", "document format (default: detect, accepts: [cyclonedx, spdx, osv, openvex])")
	_ = cmd.RegisterFlagCompletionFunc("format", utilflag.FormatCompletion)
	cmd.Flags().StringVarP(&options.source, "source", "", options.source, "document source label (default: the file path)")
	cmd.Flags().IntVarP(&options.concurrency, "concurrency", "", options.concurrency, "number of documents to ingest in parallel")
	cmd.Flags().BoolVarP(&options.debug, "debug", "d", options.debug, "debug mode")

	return cmd
}
