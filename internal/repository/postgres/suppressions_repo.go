package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type suppressionsRepo struct{ pool *pgxpool.Pool }

func (r *suppressionsRepo) Suppress(ctx context.Context, supporterID, creatorID, reason string) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO email_suppressions (supporter_id, creator_id, reason)
VALUES ($1, $2, $3)
ON CONFLICT (supporter_id, creator_id) DO NOTHING`, supporterID, creatorID, reason)
	return err
}

func (r *suppressionsRepo) IsSuppressed(ctx context.Context, supporterID, creatorID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM email_suppressions WHERE supporter_id=$1 AND creator_id=$2)`,
		supporterID, creatorID).Scan(&exists)
	return exists, err
}
