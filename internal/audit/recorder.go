package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/domain"
)

// ErrRecordNotFound is returned when no audit record exists for a request id.
var ErrRecordNotFound = errors.New("audit record not found")

// RecordStore persists completed audit records. Save must tolerate
// concurrent calls from many in-flight requests.
type RecordStore interface {
	Save(ctx context.Context, rec *AuditRecord) error
	Get(ctx context.Context, requestID string) (*AuditRecord, error)
}

// Recorder commits the per-request trail to durable storage. A commit
// failure is fatal for the request: no decision may be returned to the
// caller without a durable audit record behind it.
type Recorder struct {
	store  RecordStore
	logger *zap.Logger
}

func NewRecorder(store RecordStore, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger.Named("audit")}
}

// Commit writes the finished trail and its terminal result in one record.
func (r *Recorder) Commit(ctx context.Context, t *Trail, result *domain.PipelineResult) (*AuditRecord, error) {
	rec := &AuditRecord{
		RequestID: t.requestID,
		Ref:       t.ref,
		Verdicts:  t.Verdicts(),
		Result:    result,
		CreatedAt: time.Now().UTC(),
	}
	return r.save(ctx, rec)
}

// CommitCancellation writes the trail with a cancellation marker in place of
// a terminal decision.
func (r *Recorder) CommitCancellation(ctx context.Context, t *Trail) (*AuditRecord, error) {
	rec := &AuditRecord{
		RequestID: t.requestID,
		Ref:       t.ref,
		Verdicts:  t.Verdicts(),
		Cancelled: true,
		CreatedAt: time.Now().UTC(),
	}
	return r.save(ctx, rec)
}

func (r *Recorder) save(ctx context.Context, rec *AuditRecord) (*AuditRecord, error) {
	if err := r.store.Save(ctx, rec); err != nil {
		r.logger.Error("audit commit failed",
			zap.String("request_id", rec.RequestID),
			zap.String("ref", rec.Ref),
			zap.Error(err),
		)
		return nil, fmt.Errorf("audit commit: %w", err)
	}
	return rec, nil
}

func (r *Recorder) Get(ctx context.Context, requestID string) (*AuditRecord, error) {
	return r.store.Get(ctx, requestID)
}

// MemoryStore is an in-process RecordStore used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*AuditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*AuditRecord)}
}

func (s *MemoryStore) Save(_ context.Context, rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.RequestID]; exists {
		return fmt.Errorf("audit record for request %s already exists", rec.RequestID)
	}
	s.records[rec.RequestID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, requestID string) (*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[requestID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}
