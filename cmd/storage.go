package cmd

import (
	"fmt"

	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/kvcache"
	"github.com/stratumhq/stratum/internal/storage"
)

// openStorage builds the configured storage driver, composing the caching
// decorator on top when a cache is enabled. The returned closer releases the
// cache backend.
func openStorage(cfg *config.Config) (storage.Driver, func() error, error) {
	driver, err := storage.OpenDriver(&cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if !cfg.Cache.Enabled {
		return driver, func() error { return nil }, nil
	}

	cache, err := kvcache.OpenStarskey(cfg.Cache.Directory, cfg.Cache.Namespace)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return storage.NewCachedDriver(driver, cache), cache.Close, nil
}
