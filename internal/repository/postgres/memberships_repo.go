package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/models"
)

type membershipsRepo struct{ pool *pgxpool.Pool }

const membershipColumns = `supporter_id, creator_id, tier_level, active, total_amount::text, created_at, updated_at`

func (r *membershipsRepo) scan(ctx context.Context, q string, args ...any) (models.Membership, error) {
	var (
		m     models.Membership
		total string
	)
	err := r.pool.QueryRow(ctx, q, args...).
		Scan(&m.SupporterID, &m.CreatorID, &m.TierLevel, &m.Active, &total, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return models.Membership{}, mapErr(err)
	}
	m.TotalAmount, err = decimal.NewFromString(total)
	return m, err
}

func (r *membershipsRepo) Upsert(ctx context.Context, supporterID, creatorID string, tier int, amount decimal.Decimal) (models.Membership, error) {
	return r.scan(ctx, `
INSERT INTO supporter_memberships (supporter_id, creator_id, tier_level, active, total_amount)
VALUES ($1, $2, $3, true, $4)
ON CONFLICT (supporter_id, creator_id) DO UPDATE
   SET active = true,
       tier_level = EXCLUDED.tier_level,
       total_amount = supporter_memberships.total_amount + EXCLUDED.total_amount,
       updated_at = now()
RETURNING `+membershipColumns,
		supporterID, creatorID, tier, amount)
}

func (r *membershipsRepo) Deactivate(ctx context.Context, supporterID, creatorID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE supporter_memberships
		    SET active = false, updated_at = now()
		  WHERE supporter_id = $1 AND creator_id = $2 AND active`,
		supporterID, creatorID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *membershipsRepo) Get(ctx context.Context, supporterID, creatorID string) (models.Membership, error) {
	return r.scan(ctx,
		`SELECT `+membershipColumns+` FROM supporter_memberships WHERE supporter_id=$1 AND creator_id=$2`,
		supporterID, creatorID)
}
