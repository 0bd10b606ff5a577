package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trezcool/roofest/storage/database"
)

var runMigrationsFunc = database.RunMigrations // mockable

var migrateCommands = []string{"up", "up-by-one", "up-to", "down", "down-to", "redo", "reset", "status", "version", "create", "fix"}

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate COMMAND [ARGS...]",
		Short:     "Run database migrations",
		Long:      "Run a goose command on the embedded migrations, e.g. `migrate up` or `migrate down-to 1`.",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: migrateCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.migrate(cmd.Context(), args[0], args[1:]...)
		},
	}
}

func (cli *commandLine) migrate(ctx context.Context, command string, args ...string) error {
	return runMigrationsFunc(ctx, cli.db, command, args...)
}
