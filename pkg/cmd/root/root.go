package root

import (
	"github.com/spf13/cobra"

	dbCmd "github.com/crsche/trustify/pkg/cmd/db"
	documentCmd "github.com/crsche/trustify/pkg/cmd/document"
	impactCmd "github.com/crsche/trustify/pkg/cmd/impact"
	ingestCmd "github.com/crsche/trustify/pkg/cmd/ingest"
	versionCmd "github.com/crsche/trustify/pkg/cmd/version"
)

func NewCmdRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "trustify <command>",
		Short:         "SBOM and Advisory Correlation: Trustify",
		Long:          "SBOM and Advisory Correlation: Trustify",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.AddCommand(
		dbCmd.NewCmd(),
		ingestCmd.NewCmd(),
		impactCmd.NewCmd(),
		documentCmd.NewCmd(),
		versionCmd.NewCmd(),
	)

	return cmd
}
