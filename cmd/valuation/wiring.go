package main

import (
	"context"
	"fmt"

	"github.com/holdings-tracker/internal/adapter"
	"github.com/holdings-tracker/internal/artifact"
	"github.com/holdings-tracker/internal/circuitbreaker"
	"github.com/holdings-tracker/internal/config"
	"github.com/holdings-tracker/internal/logging"
	"github.com/holdings-tracker/internal/retry"
	"github.com/holdings-tracker/internal/service"
	"github.com/holdings-tracker/internal/storage"
	"github.com/holdings-tracker/internal/types"
	"github.com/holdings-tracker/internal/valuation"
)

// backends holds the optional database connections. A nil field means the
// backend is disabled in the configuration.
type backends struct {
	postgres   *storage.PostgresDB
	clickhouse *storage.ClickHouseDB
	redis      *storage.RedisCache
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	logger := logging.FromContext(ctx)
	b := &backends{}

	if cfg.Database.Postgres.Enabled {
		db, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.postgres = db
		logger.Info("Connected to Postgres")
	}

	if cfg.Database.ClickHouse.Enabled {
		db, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.clickhouse = db
		logger.Info("Connected to ClickHouse")
	}

	if cfg.Database.Redis.Enabled {
		cache, err := storage.NewRedisCache(ctx, &cfg.Database.Redis)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.redis = cache
		logger.Info("Connected to Redis")
	}

	return b, nil
}

// Close closes every open backend
func (b *backends) Close() {
	if b.postgres != nil {
		b.postgres.Close()
	}
	if b.clickhouse != nil {
		if err := b.clickhouse.Close(); err != nil {
			logging.WithError(err).Warn("Error closing ClickHouse connection")
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logging.WithError(err).Warn("Error closing Redis connection")
		}
	}
}

func (b *backends) tokenRegistry() service.TokenRegistry {
	if b.postgres == nil {
		return nil
	}
	return storage.NewTokenRegistryRepository(b.postgres)
}

func (b *backends) valuationStores() service.ValuationStores {
	var stores service.ValuationStores
	if b.postgres != nil {
		stores.Runs = storage.NewRunRepository(b.postgres)
		stores.Tokens = storage.NewTokenRegistryRepository(b.postgres)
	}
	if b.clickhouse != nil {
		stores.Series = storage.NewSeriesRepository(b.clickhouse)
	}
	return stores
}

func layoutFor(cfg *config.Config) artifact.Layout {
	return artifact.Layout{InputDir: cfg.Pipeline.InputDir, OutputDir: cfg.Pipeline.OutputDir}
}

func newValuationService(cfg *config.Config, b *backends) (*service.ValuationService, error) {
	spam, err := valuation.NewSpamFilter(cfg.Pipeline.SpamTickerPattern, cfg.Pipeline.SpamTokenPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid spam pattern: %w", err)
	}

	aliases := make(map[types.ChainID][]types.TokenAlias, len(cfg.Chains.Chains))
	for chain, chainCfg := range cfg.Chains.Chains {
		if len(chainCfg.Aliases) > 0 {
			aliases[chain] = chainCfg.Aliases
		}
	}

	return service.NewValuationService(layoutFor(cfg), service.ValuationOptions{
		Chains:      cfg.Chains.Enabled,
		Aliases:     aliases,
		PreActivity: cfg.Pipeline.PreActivity,
		Spam:        spam,
		Workers:     cfg.Pipeline.Workers,
	}, b.valuationStores()), nil
}

func newFetchService(ctx context.Context, cfg *config.Config, b *backends) (*service.FetchService, error) {
	if cfg.Providers.TrackedAddress == "" {
		logging.FromContext(ctx).Warn("TRACKED_ADDRESS not set, Dune queries run without an address parameter")
	}
	if cfg.Providers.Dune.APIKey == "" {
		return nil, fmt.Errorf("DUNE_API_KEY must be set to fetch feeds")
	}

	retryCfg := retry.FromConfig(cfg.Providers.Retry)

	var cache *storage.PriceCache
	if b.redis != nil {
		cache = storage.NewPriceCache(b.redis, cfg.Cache.PriceTTL)
	}

	var tokens adapter.TokenInfoSource
	rpcURLs := make(map[types.ChainID]string)
	for chain, chainCfg := range cfg.Chains.Chains {
		if chainCfg.RPCURL != "" {
			rpcURLs[chain] = chainCfg.RPCURL
		}
	}
	if len(rpcURLs) > 0 {
		resolver, err := adapter.NewTokenResolver(rpcURLs, circuitbreaker.NewManager(nil))
		if err != nil {
			return nil, err
		}
		tokens = resolver
	}

	return service.NewFetchService(
		layoutFor(cfg),
		cfg.Chains,
		cfg.Pipeline.Workers,
		adapter.NewDuneClient(cfg.Providers.Dune, cfg.Providers.TrackedAddress, retryCfg),
		adapter.NewPriceClient(cfg.Providers.CoinGecko, retryCfg, cache),
		tokens,
		b.tokenRegistry(),
	), nil
}
