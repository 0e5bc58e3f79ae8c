package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/forgecommerce/storefront/internal/registry"
)

var (
	seedName  string
	seedSlug  string
	seedPrice string
)

var seedProductCmd = &cobra.Command{
	Use:   "seed-product",
	Short: "Create a product to attach images to",
	Args:  cobra.NoArgs,
	RunE:  runSeedProduct,
}

func init() {
	seedProductCmd.Flags().StringVar(&seedName, "name", "", "product name")
	seedProductCmd.Flags().StringVar(&seedSlug, "slug", "", "product slug")
	seedProductCmd.Flags().StringVar(&seedPrice, "price", "0", "product price")
	_ = seedProductCmd.MarkFlagRequired("name")
	_ = seedProductCmd.MarkFlagRequired("slug")
}

func runSeedProduct(cmd *cobra.Command, args []string) error {
	price, err := decimal.NewFromString(seedPrice)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", seedPrice, err)
	}

	reg, pool, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}
	defer pool.Close()

	p, err := reg.Create(cmd.Context(), registry.Product{
		ID:    uuid.New(),
		Name:  seedName,
		Slug:  seedSlug,
		Price: price,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "product created: %s (%s)\n", p.ID, p.Slug)
	return nil
}
