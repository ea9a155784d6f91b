package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/finance-qa/internal/logging"
	"github.com/kyleking/finance-qa/internal/storage"
)

func InitDBCommand() *cli.Command {
	return &cli.Command{
		Name:  "init-db",
		Usage: "Create the schema and seed data in the local DuckDB database",
		Description: `Apply the database migrations: the constantdb, astockmarketquotesdb,
astockfinancedb and astockindustrydb schemas with their tables, plus a small
set of sample rows. Running it again is a no-op. Only the duckdb driver is
supported; other databases are expected to exist already.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}

			exec, err := initializeStorage(cfg, logging.GetLogger())
			if err != nil {
				return err
			}
			defer exec.Close()

			return RunInitDBWithExecutor(ctx, cmd.Root().Writer, exec)
		},
	}
}

// RunInitDBWithExecutor applies pending migrations and prints their status
func RunInitDBWithExecutor(ctx context.Context, w io.Writer, exec *storage.Executor) error {
	if err := exec.Initialize(ctx); err != nil {
		return err
	}

	manager := storage.NewMigrationManager(exec.DB(), logging.GetLogger())

	status, err := manager.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	fmt.Fprintln(w, "Database initialized")

	for _, migration := range manager.GetMigrations() {
		s := status[migration.Version]

		state := "pending"
		if s.Applied {
			state = "applied " + s.AppliedAt.Format("2006-01-02 15:04:05")
		}

		fmt.Fprintf(w, "  %d  %-40s %s\n", migration.Version, migration.Description, state)
	}

	return nil
}
