package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/forgecommerce/storefront/internal/config"
	"github.com/forgecommerce/storefront/internal/database"
	"github.com/forgecommerce/storefront/internal/registry"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "assetctl",
	Short:         "Maintenance tool for storefront media assets",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		var err error
		cfg, err = config.Load()
		return err
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(seedProductCmd)
	rootCmd.AddCommand(tokenCmd)
}

// openRegistry connects to the database and returns a registry over it.
// The caller closes the pool.
func openRegistry(ctx context.Context) (*registry.Registry, *pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return registry.New(registry.NewPGRepository(pool), logger), pool, nil
}
