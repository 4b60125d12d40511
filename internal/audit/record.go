package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/priorauth/internal/domain"
)

// AuditRecord is the immutable, ordered history of one request: every stage
// verdict in evaluation order plus the terminal result (or a cancellation
// marker instead of one). Once written it is never modified or deleted
// within the process lifetime.
type AuditRecord struct {
	RequestID string                 `json:"request_id"`
	Ref       string                 `json:"ref"`
	Verdicts  []domain.StageVerdict  `json:"verdicts"`
	Result    *domain.PipelineResult `json:"result,omitempty"`
	Cancelled bool                   `json:"cancelled"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewRef generates an audit reference identifier, e.g. "PA-20250301-1a2b3c4d".
func NewRef() string {
	return fmt.Sprintf("PA-%s-%s", time.Now().UTC().Format("20060102"), uuid.New().String()[:8])
}

// Trail is the append-only verdict sequence owned by one in-flight request.
// It lives in memory for the request's lifetime and is handed to durable
// storage only at the terminal state, so partial audit states are never
// committed. Not safe for concurrent use; each request owns exactly one.
type Trail struct {
	requestID string
	ref       string
	verdicts  []domain.StageVerdict
}

func NewTrail(requestID string) *Trail {
	return &Trail{
		requestID: requestID,
		ref:       NewRef(),
		verdicts:  make([]domain.StageVerdict, 0, len(domain.StageOrder)),
	}
}

func (t *Trail) Ref() string { return t.ref }

// Append records one stage verdict, stamping it if the evaluator did not.
func (t *Trail) Append(v domain.StageVerdict) {
	if v.RecordedAt.IsZero() {
		v.RecordedAt = time.Now().UTC()
	}
	t.verdicts = append(t.verdicts, v)
}

// Verdicts returns a copy; the trail itself stays write-once.
func (t *Trail) Verdicts() []domain.StageVerdict {
	out := make([]domain.StageVerdict, len(t.verdicts))
	copy(out, t.verdicts)
	return out
}

func (t *Trail) Len() int { return len(t.verdicts) }
