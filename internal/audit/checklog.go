package audit

// The check log is the high-volume side of the audit story: every
// reference-data screen from the hot path, collected without blocking the
// pipeline. Events flow through a buffered channel into a worker that
// batches writes to storage. Stopping drains the buffer completely so a
// restart loses nothing that was accepted.

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CheckStorage persists check events in batches.
type CheckStorage interface {
	WriteBatch(ctx context.Context, events []CheckEvent) error
}

// CheckLogger is what the stages see.
type CheckLogger interface {
	Log(event CheckEvent)
}

const checkBatchSize = 100

type CheckLog struct {
	ch            chan CheckEvent
	repo          CheckStorage
	logger        *zap.Logger
	flushInterval time.Duration
	wg            sync.WaitGroup
	isClosed      int32 // atomic; Log after Stop drops instead of panicking on a closed channel
}

func NewCheckLog(repo CheckStorage, logger *zap.Logger, bufferSize int, flushInterval time.Duration) *CheckLog {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &CheckLog{
		ch:            make(chan CheckEvent, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "checklog")),
		flushInterval: flushInterval,
	}
}

func (cl *CheckLog) Start() {
	cl.wg.Add(1)
	go cl.worker()
}

// Stop seals the intake and waits for the worker to flush everything.
func (cl *CheckLog) Stop() {
	atomic.StoreInt32(&cl.isClosed, 1)

	// Let in-flight Log calls pass the flag check before closing.
	time.Sleep(10 * time.Millisecond)

	cl.logger.Info("stopping check log: closing channel and flushing buffer")
	close(cl.ch)
	cl.wg.Wait()
	cl.logger.Info("check log stopped")
}

func (cl *CheckLog) Log(event CheckEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if atomic.LoadInt32(&cl.isClosed) == 1 {
		cl.logger.Warn("check event dropped: log is stopping", zap.String("id", event.ID))
		return
	}

	// Load shedding: a full buffer must not stall the pipeline, so the
	// overflow goes to the structured log instead.
	select {
	case cl.ch <- event:
	default:
		cl.logger.Error("check_log_buffer_overflow",
			zap.String("request_id", event.RequestID),
			zap.String("authority", event.Authority),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (cl *CheckLog) worker() {
	defer cl.wg.Done()

	batch := make([]CheckEvent, 0, checkBatchSize)
	ticker := time.NewTicker(cl.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background context: the app context may already be gone during
		// the final flush.
		if err := cl.repo.WriteBatch(context.Background(), batch); err != nil {
			cl.logger.Error("check log flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-cl.ch:
			if !ok {
				// Channel closed in Stop(); the remaining queue has been
				// drained at this point, so one final flush finishes the job.
				flush()
				cl.logger.Info("check log worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= checkBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// NopCheckLogger drops everything; used where check logging is not wired.
type NopCheckLogger struct{}

func (NopCheckLogger) Log(CheckEvent) {}
