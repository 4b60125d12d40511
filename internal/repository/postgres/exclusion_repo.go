package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/priorauth/internal/lookup"
)

// Check screens a provider against the exclusions table. A nil record with
// a nil error means the provider is clear.
func (r *Repo) Check(ctx context.Context, npi, name string) (*lookup.ExclusionRecord, error) {
	query := `
		SELECT record_id, npi, exclusion_type, exclusion_date, COALESCE(waiver_state, '')
		FROM exclusions
		WHERE npi = $1 AND (reinstated_at IS NULL OR reinstated_at > NOW())`

	rec := &lookup.ExclusionRecord{}
	err := r.pool.QueryRow(ctx, query, npi).Scan(
		&rec.RecordID, &rec.NPI, &rec.ExclusionType, &rec.ExclusionDate, &rec.WaiverState,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to check exclusions for %s: %w", npi, err)
	}
	return rec, nil
}

// ListExclusions returns active exclusions for cache warm-up.
func (r *Repo) ListExclusions(ctx context.Context, limit int) ([]lookup.ExclusionRecord, error) {
	query := `
		SELECT record_id, npi, exclusion_type, exclusion_date, COALESCE(waiver_state, '')
		FROM exclusions
		WHERE reinstated_at IS NULL OR reinstated_at > NOW()
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list exclusions: %w", err)
	}
	defer rows.Close()

	var out []lookup.ExclusionRecord
	for rows.Next() {
		var rec lookup.ExclusionRecord
		if err := rows.Scan(
			&rec.RecordID, &rec.NPI, &rec.ExclusionType, &rec.ExclusionDate, &rec.WaiverState,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan exclusion: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
