package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tabletalk-dev/tabletalk/pkg/db"
	"github.com/tabletalk-dev/tabletalk/pkg/db/migrations"
	"github.com/tabletalk-dev/tabletalk/pkg/presenter"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the conversation database",
	Long:  `Inspect and roll back the schema migrations of the thread database.`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		base, err := basePath()
		if err != nil {
			return err
		}
		status, err := db.GetMigrationStatus(cmd.Context(), base, migrations.All())
		if err != nil {
			return errors.Wrap(err, "failed to get migration status")
		}

		presenter.Section("Database Migration Status")
		presenter.Info(fmt.Sprintf("Database: %s\n", db.ConversationsDBPath(base)))
		presenter.Table([]string{"", "Version", "Description", "Applied"}, migrationRows(status))
		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the last applied migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		base, err := basePath()
		if err != nil {
			return err
		}
		m, err := db.RollbackMigration(cmd.Context(), base, migrations.All())
		if err != nil {
			return err
		}
		if m == nil {
			presenter.Warning("No migrations to roll back")
			return nil
		}
		presenter.Success(fmt.Sprintf("Rolled back migration %d: %s", m.Version, m.Description))
		return nil
	},
}

func migrationRows(status []db.MigrationStatus) [][]string {
	rows := make([][]string, 0, len(status))
	for _, s := range status {
		mark, applied := "[ ]", "pending"
		if s.Applied() {
			mark, applied = "[✓]", s.AppliedAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{mark, fmt.Sprint(s.Version), s.Description, applied})
	}
	return rows
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}
