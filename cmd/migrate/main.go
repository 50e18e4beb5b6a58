// Command migrate manages the ledger schema outside the bot process.
//
//	migrate up              # apply pending versioned migrations
//	migrate down --yes      # roll back the latest migration (drops ledger data)
//	migrate version         # print the current version and dirty flag
//
// DB_DSN selects the database, as for the bot.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/sphinx-bot/config"
	"github.com/onnwee/sphinx-bot/db"
)

type migrator struct {
	up      func(*sql.DB) error
	down    func(*sql.DB) error
	version func(*sql.DB) (uint, bool, error)
}

var pgMigrator = migrator{up: db.RunMigrations, down: db.MigrateDown, version: db.GetMigrationVersion}

func main() {
	_ = godotenv.Load()
	open := func(ctx context.Context) (*sql.DB, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return db.Connect(ctx, cfg.DBDsn)
	}
	if err := newRootCmd(open, pgMigrator).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open func(context.Context) (*sql.DB, error), m migrator) *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the ledger database schema",
		SilenceUsage: true,
	}

	withDB := func(fn func(cmd *cobra.Command, database *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			database, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()
			return fn(cmd, database)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withDB(func(cmd *cobra.Command, database *sql.DB) error {
			if err := m.up(database); err != nil {
				return err
			}
			return printVersion(cmd, m, database)
		}),
	})

	var yes bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("down drops ledger tables; pass --yes to confirm")
			}
			return nil
		},
		RunE: withDB(func(cmd *cobra.Command, database *sql.DB) error {
			if err := m.down(database); err != nil {
				return err
			}
			return printVersion(cmd, m, database)
		}),
	}
	down.Flags().BoolVar(&yes, "yes", false, "confirm the rollback")
	root.AddCommand(down)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withDB(func(cmd *cobra.Command, database *sql.DB) error {
			return printVersion(cmd, m, database)
		}),
	})
	return root
}

func printVersion(cmd *cobra.Command, m migrator, database *sql.DB) error {
	v, dirty, err := m.version(database)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
	return nil
}
