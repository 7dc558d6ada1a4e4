package cli

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"changeguard/internal/db"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSchemaDB(cmd, func(conn *sql.DB) error {
				if err := db.RunMigrations(conn); err != nil {
					return err
				}
				return printSchemaVersion(cmd, conn)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSchemaDB(cmd, func(conn *sql.DB) error {
				if err := db.RollbackMigration(conn); err != nil {
					return err
				}
				return printSchemaVersion(cmd, conn)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSchemaDB(cmd, func(conn *sql.DB) error {
				return printSchemaVersion(cmd, conn)
			})
		},
	})
	return cmd
}

// withSchemaDB opens the configured database on a single write
// connection without applying migrations.
func withSchemaDB(cmd *cobra.Command, fn func(conn *sql.DB) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	conn, err := db.OpenSQLite(cfg.DatabasePath, db.ModeWrite, 0)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close() //nolint:errcheck
	return fn(conn)
}

func printSchemaVersion(cmd *cobra.Command, conn *sql.DB) error {
	v, err := db.SchemaVersion(cmd.Context(), conn)
	if err != nil {
		return err
	}
	if getOutputFormat(cmd) == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]int64{"version": v})
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}
