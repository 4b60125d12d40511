package postgres

import (
	"context"

	"github.com/xela07ax/priorauth/internal/domain"
)

// GetDashboardStats aggregates the last 24 hours of activity for the
// review console.
func (r *Repo) GetDashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	d := &domain.DashboardStats{}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE cancelled),
			COUNT(*) FILTER (WHERE result->>'decision' = 'APPROVE'),
			COUNT(*) FILTER (WHERE result->>'decision' = 'DENY'),
			COUNT(*) FILTER (WHERE result->>'decision' = 'PEND'),
			COUNT(*) FILTER (WHERE result->>'decision' = 'DENIED_HARD_STOP'),
			COUNT(*) FILTER (WHERE result->>'decision' = 'RETURNED_FOR_CORRECTION')
		FROM audit_records
		WHERE created_at > NOW() - INTERVAL '24 hours'`).Scan(
		&d.Activity.TotalRequests,
		&d.Activity.Cancelled,
		&d.Decisions.Approved,
		&d.Decisions.Denied,
		&d.Decisions.Pended,
		&d.Decisions.HardStops,
		&d.Decisions.ReturnedForFix,
	)
	if err != nil {
		return nil, err
	}

	// PERCENTILE_CONT gives an honest P95 over the screening latencies.
	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'ERROR'),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms), 0)
		FROM check_events
		WHERE timestamp > NOW() - INTERVAL '24 hours'`).Scan(
		&d.Checks.Total,
		&d.Checks.Errors,
		&d.Checks.P95Latency,
	)

	d.Activity.RPS = float64(d.Activity.TotalRequests) / (24 * 3600)

	return d, err
}

// GetReferenceCounts reports how many rows each reference table holds.
func (r *Repo) GetReferenceCounts(ctx context.Context) (*domain.ReferenceCounts, error) {
	c := &domain.ReferenceCounts{}
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM exclusions),
			(SELECT COUNT(*) FROM code_relationships),
			(SELECT COUNT(*) FROM icd10_codes),
			(SELECT COUNT(*) FROM regulatory_mandates)`).Scan(
		&c.Exclusions, &c.CodeEdits, &c.Diagnoses, &c.Mandates,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
