package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/infra"
)

// CancelManager tracks submitter cancellations across instances. The local
// map is the hot path read by the controller between stages; Redis carries
// the state (set) and the signal (pub/sub) so a cancellation lands on
// whichever instance is running the request.
type CancelManager struct {
	mu        sync.RWMutex
	cancelled map[string]struct{}
	rdb       *redis.Client
	logger    *zap.Logger
}

func NewCancelManager(rdb *redis.Client, logger *zap.Logger) *CancelManager {
	return &CancelManager{
		cancelled: make(map[string]struct{}),
		rdb:       rdb,
		logger:    logger.Named("cancel"),
	}
}

// Init loads outstanding cancellations at startup.
func (m *CancelManager) Init(ctx context.Context) error {
	ids, err := m.rdb.SMembers(ctx, infra.RedisKeyCancelledSet).Result()
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, id := range ids {
		m.cancelled[id] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// Cancel records a submitter cancellation and broadcasts it.
func (m *CancelManager) Cancel(ctx context.Context, requestID string) error {
	m.mark(requestID, true)

	pipe := m.rdb.Pipeline()
	pipe.SAdd(ctx, infra.RedisKeyCancelledSet, requestID)
	// Cancellation relevance is bounded by request lifetime; expire the set
	// slot so abandoned ids do not accumulate forever.
	pipe.Expire(ctx, infra.RedisKeyCancelledSet, 24*time.Hour)
	pipe.Publish(ctx, infra.RedisChanCancel, requestID+":on")
	_, err := pipe.Exec(ctx)
	return err
}

func (m *CancelManager) IsCancelled(requestID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cancelled[requestID]
	return ok
}

func (m *CancelManager) mark(requestID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.cancelled[requestID] = struct{}{}
	} else {
		delete(m.cancelled, requestID)
	}
}

// StartListener runs the resilient subscribe loop until ctx ends. It
// re-syncs the local map from Redis on every (re)connect so no signal
// published while disconnected is lost.
func (m *CancelManager) StartListener(ctx context.Context) {
	for {
		pubsub := m.rdb.Subscribe(ctx, infra.RedisChanCancel)

		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				pubsub.Close()
				return
			}
			m.logger.Error("failed to subscribe", zap.String("chan", infra.RedisChanCancel), zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		if err := m.Init(ctx); err != nil {
			m.logger.Error("cancel set sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // reconnect
				}
				m.processSignal(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

// processSignal parses "request_id:on" / "request_id:off".
func (m *CancelManager) processSignal(payload string) {
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 {
		m.logger.Error("invalid cancel signal format", zap.String("payload", payload))
		return
	}
	id, status := payload[:idx], payload[idx+1:]
	m.mark(id, status == "on" || status == "true")
}
