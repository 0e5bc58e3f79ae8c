package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/forgecommerce/storefront/internal/purge"
	"github.com/forgecommerce/storefront/internal/storage"
)

var purgeGraceHours int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Run the deferred deletion job once",
	Long: `Remove stored files of images that have been pending deletion for
longer than the grace period, then drop their descriptors. Prints the run
summary as JSON. Suitable for cron when the in-process scheduler is disabled.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().IntVar(&purgeGraceHours, "grace-hours", -1, "override PURGE_GRACE_HOURS")
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	reg, pool, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := storage.New(ctx, cfg.StorageOptions(), logger)
	if err != nil {
		return err
	}

	opts := cfg.PurgeOptions()
	if purgeGraceHours >= 0 {
		opts.GraceHours = purgeGraceHours
	}

	res := purge.NewJob(reg, store, opts, logger).Run(ctx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	return res.Error
}
