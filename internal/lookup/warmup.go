package lookup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/infra"
)

// ExclusionLister enumerates currently excluded providers for cache warm-up.
type ExclusionLister interface {
	ListExclusions(ctx context.Context, limit int) ([]ExclusionRecord, error)
}

// WarmExclusionCache preloads the per-NPI exclusion cache with every active
// exclusion so the hottest screens hit Redis from the first request. A SetNX
// lock keeps concurrent instances from racing each other through the same
// warm-up.
func WarmExclusionCache(ctx context.Context, rdb *redis.Client, src ExclusionLister, ttl time.Duration, logger *zap.Logger) error {
	ok, err := rdb.SetNX(ctx, infra.RedisKeyExclusionWarmLock, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		// Either a network error or another instance holds the lock.
		return nil
	}

	records, err := src.ListExclusions(ctx, 10000)
	if err != nil {
		logger.Warn("exclusion warm-up skipped, source unreadable", zap.Error(err))
		return err
	}
	if len(records) == 0 {
		return nil
	}

	if ttl <= 0 {
		ttl = defaultExclusionTTL
	}

	pipe := rdb.Pipeline()
	for i := range records {
		payload, err := json.Marshal(&records[i])
		if err != nil {
			continue
		}
		pipe.Set(ctx, infra.ExclusionCacheKey(records[i].NPI), payload, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("exclusion warm-up incomplete", zap.Error(err))
		return err
	}

	logger.Info("exclusion cache warmed", zap.Int("records", len(records)))
	return nil
}
