package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/priorauth/internal/lookup"
)

// ValidateDiagnosis checks an ICD-10 code against the fiscal-year table
// selected by the service date. A code missing from the table for that
// fiscal year is reported as invalid, not as an error.
func (r *Repo) ValidateDiagnosis(ctx context.Context, code string, serviceDate time.Time) (*lookup.DiagnosisInfo, error) {
	fy := fiscalYear(serviceDate)
	normalized := strings.ToUpper(strings.ReplaceAll(code, ".", ""))

	query := `
		SELECT code, billable, description, COALESCE(suggestion, '')
		FROM icd10_codes
		WHERE replace(code, '.', '') = $1 AND fiscal_year = $2`

	info := &lookup.DiagnosisInfo{Code: code, FiscalYear: fy}
	err := r.pool.QueryRow(ctx, query, normalized, fy).Scan(
		&info.Code, &info.Billable, &info.Description, &info.Suggestion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return info, nil
		}
		return nil, fmt.Errorf("postgres: failed to validate diagnosis %s: %w", code, err)
	}
	info.Valid = true
	return info, nil
}

// fiscalYear maps a service date onto the CMS ICD-10 code-set year.
// The code set rolls over on October 1, so October through December
// belong to the next year's set.
func fiscalYear(t time.Time) int {
	if t.Month() >= time.October {
		return t.Year() + 1
	}
	return t.Year()
}
