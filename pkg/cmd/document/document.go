package document

import (
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	utilflag "github.com/crsche/trustify/pkg/cmd/util/flag"
	"github.com/crsche/trustify/pkg/graph"
	utilos "github.com/crsche/trustify/pkg/util/os"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document <subcommand>",
		Short: "inspect ingested documents",
	}

	cmd.AddCommand(
		newListCmd(),
		newStatusCmd(),
	)

	return cmd
}

func newListCmd() *cobra.Command {
	options := struct {
		dbtype utilflag.DBType
		dbpath string
		debug  bool
	}{
		dbtype: utilflag.DBTypeBoltDB,
		dbpath: filepath.Join(utilos.UserCacheDir(), "trustify.db"),
		debug:  false,
	}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "list every ingested document",
		Example: heredoc.Doc(`
		$ trustify document list
		`),
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := graph.Query(graph.QueryDocuments, nil, graph.WithDBType(options.dbtype.String()), graph.WithDBPath(options.dbpath), graph.WithDebug(options.debug)); err != nil {
				return errors.Wrap(err, "document list")
			}
			return nil
		},
	}

	cmd.Flags().VarP(&options.dbtype, "dbtype", "", "trustify db type (default: boltdb, accepts: [boltdb, redis, sqlite3, mysql, postgres])")
	_ = cmd.RegisterFlagCompletionFunc("dbtype", utilflag.DBTypeCompletion)
	cmd.Flags().StringVarP(&options.dbpath, "dbpath", "", options.dbpath, "trustify db path")
	cmd.Flags().BoolVarP(&options.debug, "debug", "d", options.debug, "debug mode")

	return cmd
}

func newStatusCmd() *cobra.Command {
	options := struct {
		dbtype utilflag.DBType
		dbpath string
		debug  bool
	}{
		dbtype: utilflag.DBTypeBoltDB,
		dbpath: filepath.Join(utilos.UserCacheDir(), "trustify.db"),
		debug:  false,
	}

	cmd := &cobra.Command{
		Use:   "status <digest>...",
		Short: "show the record of an ingested document",
		Example: heredoc.Doc(`
		$ trustify document status e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
		`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := graph.Query(graph.QueryDocument, args, graph.WithDBType(options.dbtype.String()), graph.WithDBPath(options.dbpath), graph.WithDebug(options.debug)); err != nil {
				return errors.Wrap(err, "document status")
			}
			return nil
		},
	}

	cmd.Flags().VarP(&options.dbtype, "dbtype", "", "trustify db type (default: boltdb, accepts: [boltdb, redis, sqlite3, mysql, postgres])")
	_ = cmd.RegisterFlagCompletionFunc("dbtype", utilflag.DBTypeCompletion)
	cmd.Flags().StringVarP(&options.dbpath, "dbpath", "", options.dbpath, "trustify db path")
	cmd.Flags().BoolVarP(&options.debug, "debug", "d", options.debug, "debug mode")

	return cmd
}
