package postgres

import (
	"context"
	"fmt"

	"github.com/xela07ax/priorauth/internal/lookup"
)

// Mandates returns federal and state rules effective as of the service date
// that touch the requested procedure codes, newest first. The lookback
// window keeps stale mandates from dominating the result set.
func (r *Repo) Mandates(ctx context.Context, q lookup.RegulatoryQuery) ([]lookup.RegulatoryMandate, error) {
	since := q.ServiceDate.AddDate(0, 0, -q.LookbackDays)

	query := `
		SELECT mandate_ref, title, effective_date, jurisdiction, summary, mandates_coverage
		FROM regulatory_mandates
		WHERE cpt_codes && $1
		  AND (jurisdiction = 'Federal' OR jurisdiction = $2)
		  AND (lob = '' OR lob = $3)
		  AND effective_date <= $4
		  AND effective_date >= $5
		ORDER BY effective_date DESC
		LIMIT 50`

	rows, err := r.pool.Query(ctx, query,
		q.ProcedureCodes, q.Jurisdiction, string(q.LOB), q.ServiceDate, since,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query mandates: %w", err)
	}
	defer rows.Close()

	var out []lookup.RegulatoryMandate
	for rows.Next() {
		var m lookup.RegulatoryMandate
		if err := rows.Scan(
			&m.MandateRef, &m.Title, &m.EffectiveDate, &m.Jurisdiction, &m.Summary, &m.MandatesCoverage,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan mandate: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
