package db

import (
	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	dbInitCmd "github.com/crsche/trustify/pkg/cmd/db/init"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db <subcommand>",
		Short: "Trustify DB Operation",
		Example: heredoc.Doc(`
			$ trustify db init
			$ trustify db init --dbtype sqlite3 --dbpath trustify.db
		`),
	}

	cmd.AddCommand(dbInitCmd.NewCmd())

	return cmd
}
