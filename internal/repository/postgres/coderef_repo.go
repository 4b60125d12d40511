package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/priorauth/internal/lookup"
)

// Relation resolves a bundling or redundancy edit for a code pair. Pairs are
// stored directionally: (code, related_code) means code is subsumed by
// related_code. A nil relation with a nil error means the pair is unrelated.
func (r *Repo) Relation(ctx context.Context, code, relatedCode string) (*lookup.CodeRelation, error) {
	query := `
		SELECT kind, code, related_code, directive, description
		FROM code_relationships
		WHERE code = $1 AND related_code = $2`

	rel := &lookup.CodeRelation{}
	err := r.pool.QueryRow(ctx, query, code, relatedCode).Scan(
		&rel.Kind, &rel.Code, &rel.RelatedCode, &rel.Directive, &rel.Description,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to resolve relation %s/%s: %w", code, relatedCode, err)
	}
	return rel, nil
}
