package audit

import "time"

// CheckEvent is one reference-lookup screen (match or clear), logged
// regardless of outcome. Compliance wants the fact of the check, not just
// the checks that found something.
type CheckEvent struct {
	ID        string                 `json:"id"`       // UUID of the event
	TraceID   string                 `json:"trace_id"` // request-scoped trace id
	RequestID string                 `json:"request_id"`
	Stage     string                 `json:"stage"`     // which checkpoint asked
	Authority string                 `json:"authority"` // "oig", "icd10", "cci", "regulatory", ...
	Query     map[string]interface{} `json:"query"`     // what was looked up

	Outcome    string    `json:"outcome"` // "MATCH", "CLEAR", "ERROR"
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}
