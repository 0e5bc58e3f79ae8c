package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forgecommerce/storefront/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down [steps]",
	Short:     "Apply or roll back schema migrations",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"up", "down"},
	RunE:      runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	switch args[0] {
	case "up":
		if len(args) > 1 {
			return fmt.Errorf("migrate up takes no step count")
		}
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied successfully")
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
			steps = n
		}
		if err := database.MigrateDown(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
	default:
		return fmt.Errorf("unknown direction: %s (use 'up' or 'down')", args[0])
	}
	return nil
}
