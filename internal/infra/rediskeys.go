package infra

import "fmt"

const (
	// RedisNamespace isolates this service's keys in a shared Redis.
	RedisNamespace = "priorauth"
)

// Sets (state)
const (
	// RedisKeyCancelledSet holds request ids whose submitters cancelled
	// them while still in flight.
	RedisKeyCancelledSet = RedisNamespace + ":requests:cancelled_set"
)

// Locks
const (
	// RedisKeyExclusionWarmLock serializes exclusion cache warm-up across
	// instances.
	RedisKeyExclusionWarmLock = RedisNamespace + ":exclusions:warmup_lock"
)

// Pub/Sub channels (events)
const (
	// RedisChanCancel broadcasts cancellation signals ("request_id:on") to
	// every instance that might be running the request.
	RedisChanCancel = RedisNamespace + ":requests:cancel-signal"
)

// ExclusionCacheKey is the read-through cache slot for one provider screen.
func ExclusionCacheKey(npi string) string {
	return fmt.Sprintf("%s:exclusions:npi:%s", RedisNamespace, npi)
}
