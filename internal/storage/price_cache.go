package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/redis/go-redis/v9"
)

// PriceCache keeps fetched daily price histories in Redis so repeated fetch
// runs within the TTL do not hit the market data provider again.
type PriceCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewPriceCache creates a price cache with the given entry TTL
func NewPriceCache(cache *RedisCache, ttl time.Duration) *PriceCache {
	return &PriceCache{cache: cache, ttl: ttl}
}

func priceKey(chain types.ChainID, contract string) string {
	return fmt.Sprintf("prices:daily:%s:%s", chain, types.NormalizeAddress(contract))
}

// Get returns the cached history of contract. ok is false on a miss.
func (c *PriceCache) Get(ctx context.Context, chain types.ChainID, contract string) (prices []models.DailyPrice, ok bool, err error) {
	raw, err := c.cache.Get(ctx, priceKey(chain, contract))
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewCacheError("get prices", err)
	}
	if err := json.Unmarshal([]byte(raw), &prices); err != nil {
		// a corrupt entry is a miss; the next Set replaces it
		return nil, false, nil
	}
	return prices, true, nil
}

// Set stores the history of contract.
func (c *PriceCache) Set(ctx context.Context, chain types.ChainID, contract string, prices []models.DailyPrice) error {
	data, err := json.Marshal(prices)
	if err != nil {
		return fmt.Errorf("failed to encode prices: %w", err)
	}
	if err := c.cache.Set(ctx, priceKey(chain, contract), data, c.ttl); err != nil {
		return apperrors.NewCacheError("set prices", err)
	}
	return nil
}

// Invalidate drops the cached history of contract.
func (c *PriceCache) Invalidate(ctx context.Context, chain types.ChainID, contract string) error {
	return c.cache.Del(ctx, priceKey(chain, contract))
}
