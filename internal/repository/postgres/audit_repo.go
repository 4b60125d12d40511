package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/priorauth/internal/audit"
	"github.com/xela07ax/priorauth/internal/domain"
)

// Save writes one completed audit record. The primary key on request_id
// makes re-adjudication of the same request a hard failure rather than a
// silent overwrite.
func (r *Repo) Save(ctx context.Context, rec *audit.AuditRecord) error {
	verdicts, err := json.Marshal(rec.Verdicts)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode verdicts: %w", err)
	}
	var result []byte
	if rec.Result != nil {
		if result, err = json.Marshal(rec.Result); err != nil {
			return fmt.Errorf("postgres: failed to encode result: %w", err)
		}
	}

	query := `
		INSERT INTO audit_records (request_id, ref, verdicts, result, cancelled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.pool.Exec(ctx, query,
		rec.RequestID, rec.Ref, verdicts, result, rec.Cancelled, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save audit record %s: %w", rec.RequestID, err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, requestID string) (*audit.AuditRecord, error) {
	query := `
		SELECT request_id, ref, verdicts, result, cancelled, created_at
		FROM audit_records WHERE request_id = $1`

	rec := &audit.AuditRecord{}
	var verdicts, result []byte
	err := r.pool.QueryRow(ctx, query, requestID).Scan(
		&rec.RequestID, &rec.Ref, &verdicts, &result, &rec.Cancelled, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, audit.ErrRecordNotFound
		}
		return nil, fmt.Errorf("postgres: failed to load audit record %s: %w", requestID, err)
	}

	if err := json.Unmarshal(verdicts, &rec.Verdicts); err != nil {
		return nil, fmt.Errorf("postgres: failed to decode verdicts for %s: %w", requestID, err)
	}
	if len(result) > 0 {
		rec.Result = &domain.PipelineResult{}
		if err := json.Unmarshal(result, rec.Result); err != nil {
			return nil, fmt.Errorf("postgres: failed to decode result for %s: %w", requestID, err)
		}
	}
	return rec, nil
}

// WriteBatch inserts a batch of check events in one statement. Called by the
// buffered check log, so it has to stay cheap for batches up to the flush size.
func (r *Repo) WriteBatch(ctx context.Context, events []audit.CheckEvent) error {
	if len(events) == 0 {
		return nil
	}

	const numFields = 10
	var sb strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		query, _ := json.Marshal(e.Query)
		vals = append(vals,
			e.ID, e.TraceID, e.RequestID, e.Stage, e.Authority,
			query, e.Outcome, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO check_events (id, trace_id, request_id, stage, authority, query, outcome, error, duration_ms, timestamp) VALUES %s",
		strings.TrimSuffix(sb.String(), ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}
