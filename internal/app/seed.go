package app

import (
	"context"

	"github.com/example/order-pipeline/internal/config"
	"github.com/example/order-pipeline/internal/domain/customer"
	"github.com/example/order-pipeline/internal/domain/product"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"go.uber.org/zap"
)

// Seed loads the configured product and customer files into s. Unset paths
// are skipped.
func Seed(ctx context.Context, cfg config.SeedConfig, s store.EntityStore, log *zap.Logger) error {
	if cfg.ProductsFile != "" {
		products, err := product.LoadSeedFile(cfg.ProductsFile)
		if err != nil {
			return err
		}
		n, err := product.NewService(s).Seed(ctx, products)
		if err != nil {
			return err
		}
		log.Info("seeded products", zap.Int("count", n), zap.String("file", cfg.ProductsFile))
	}

	if cfg.CustomersFile != "" {
		customers, err := customer.LoadSeedFile(cfg.CustomersFile)
		if err != nil {
			return err
		}
		n, err := customer.Seed(ctx, s, customers)
		if err != nil {
			return err
		}
		log.Info("seeded customers", zap.Int("count", n), zap.String("file", cfg.CustomersFile))
	}
	return nil
}
