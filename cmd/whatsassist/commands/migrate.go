package commands

import (
	"fmt"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/database"
	"github.com/spf13/cobra"
)

// newMigrateCmd creates `whatsassist migrate`.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, stderrLogs)
			if err != nil {
				return err
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := db.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database at schema version %d (latest %d).\n",
				version, database.LatestVersion())
			return nil
		},
	}
}
