package impact

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
		Use:   "impact <subcommand>",
		Short: "query the correlation graph",
	}

	cmd.AddCommand(
		newVulnerabilityCmd(),
		newPackageCmd(),
	)

	return cmd
}

func newVulnerabilityCmd() *cobra.Command {
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
		Use:   "vulnerability <Vulnerability ID>...",
		Short: "list packages impacted by a vulnerability",
		Example: heredoc.Doc(`
		$ trustify impact vulnerability CVE-2022-3602
		$ trustify impact vulnerability GHSA-f9xv-q969-pqx4
		`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := graph.Query(graph.QueryVulnerability, args, graph.WithDBType(options.dbtype.String()), graph.WithDBPath(options.dbpath), graph.WithDebug(options.debug)); err != nil {
				return errors.Wrap(err, "impact vulnerability")
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

func newPackageCmd() *cobra.Command {
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
		Use:   "package <PURL>...",
		Short: "list vulnerabilities reachable from a package",
		Example: heredoc.Doc(`
		$ trustify impact package pkg:npm/webapp@2.0.0
		`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := graph.Query(graph.QueryPackage, args, graph.WithDBType(options.dbtype.String()), graph.WithDBPath(options.dbpath), graph.WithDebug(options.debug)); err != nil {
				return errors.Wrap(err, "impact package")
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
