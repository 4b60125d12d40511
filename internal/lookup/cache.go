package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/infra"
)

// clearMarker caches a negative screen so clear providers do not hit the
// exclusion store on every submission.
const clearMarker = "CLEAR"

// LEIE refreshes monthly; half a day is conservative.
const defaultExclusionTTL = 12 * time.Hour

// CachedExclusionLookup is a Redis read-through decorator over the exclusion
// store. Cache failures are soft: on any Redis error the lookup falls
// through to the backing store, because a stale or missing cache entry must
// never decide a sanctions screen.
type CachedExclusionLookup struct {
	next   ExclusionLookup
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedExclusionLookup(next ExclusionLookup, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedExclusionLookup {
	if ttl == 0 {
		ttl = defaultExclusionTTL
	}
	return &CachedExclusionLookup{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.Named("exclusion-cache"),
	}
}

func (c *CachedExclusionLookup) Check(ctx context.Context, npi, name string) (*ExclusionRecord, error) {
	key := infra.ExclusionCacheKey(npi)

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == clearMarker {
			return nil, nil
		}
		var rec ExclusionRecord
		if jsonErr := json.Unmarshal([]byte(cached), &rec); jsonErr == nil {
			return &rec, nil
		}
		// Corrupt entry: drop it and re-screen.
		c.rdb.Del(ctx, key)
	case errors.Is(err, redis.Nil):
		// miss
	default:
		c.logger.Warn("cache read failed, falling through", zap.String("npi", npi), zap.Error(err))
	}

	rec, err := c.next.Check(ctx, npi, name)
	if err != nil {
		return nil, err
	}

	val := clearMarker
	if rec != nil {
		if b, jsonErr := json.Marshal(rec); jsonErr == nil {
			val = string(b)
		}
	}
	if setErr := c.rdb.Set(ctx, key, val, c.ttl).Err(); setErr != nil {
		c.logger.Warn("cache write failed", zap.String("npi", npi), zap.Error(setErr))
	}

	return rec, nil
}
