package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baharkarakas/supportpay/internal/models"
)

type channelsRepo struct{ pool *pgxpool.Pool }

func (r *channelsRepo) ListByCreator(ctx context.Context, creatorID string) ([]models.Channel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, creator_id, name, min_tier FROM chat_channels WHERE creator_id=$1 ORDER BY min_tier, name`,
		creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		var c models.Channel
		if err := rows.Scan(&c.ID, &c.CreatorID, &c.Name, &c.MinTier); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
