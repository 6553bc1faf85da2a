package storage

import (
	"context"
	"fmt"

	"docbatch/internal/config"
	"docbatch/internal/jobstore"
	"docbatch/internal/jobstore/pgstore"
	"docbatch/internal/services"
)

// Open returns the job store for cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config) (jobstore.Repository, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		return jobstore.Open(cfg)
	case "postgres":
		return pgstore.Open(ctx, cfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "storage", "open",
			fmt.Sprintf("unsupported store driver %q", cfg.Store.Driver), nil)
	}
}
