package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

type subscriptionsRepo struct{ pool *pgxpool.Pool }

const subColumns = `id, transaction_id, supporter_id, creator_id, gateway, external_id, tier_level,
  status, period_start, period_end, created_at, updated_at`

func (r *subscriptionsRepo) one(ctx context.Context, q string, args ...any) (models.Subscription, error) {
	var s models.Subscription
	err := r.pool.QueryRow(ctx, q, args...).Scan(&s.ID, &s.TransactionID, &s.SupporterID, &s.CreatorID,
		&s.Gateway, &s.ExternalID, &s.TierLevel, &s.Status, &s.PeriodStart, &s.PeriodEnd, &s.CreatedAt, &s.UpdatedAt)
	return s, mapErr(err)
}

func (r *subscriptionsRepo) Create(ctx context.Context, s models.Subscription) (models.Subscription, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return r.one(ctx, `
INSERT INTO subscriptions (id, transaction_id, supporter_id, creator_id, gateway, external_id, tier_level, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING `+subColumns,
		s.ID, s.TransactionID, s.SupporterID, s.CreatorID, s.Gateway, s.ExternalID, s.TierLevel, s.Status)
}

func (r *subscriptionsRepo) GetByID(ctx context.Context, id string) (models.Subscription, error) {
	return r.one(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE id=$1`, id)
}

func (r *subscriptionsRepo) GetByTransaction(ctx context.Context, transactionID string) (models.Subscription, error) {
	return r.one(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE transaction_id=$1`, transactionID)
}

func (r *subscriptionsRepo) GetByExternalID(ctx context.Context, gateway, externalID string) (models.Subscription, error) {
	return r.one(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE gateway=$1 AND external_id=$2`, gateway, externalID)
}

func (r *subscriptionsRepo) GetLiveByPair(ctx context.Context, supporterID, creatorID string) (models.Subscription, error) {
	return r.one(ctx, `
SELECT `+subColumns+`
  FROM subscriptions
 WHERE supporter_id=$1 AND creator_id=$2 AND status IN ('pending','active','past_due')
 ORDER BY created_at DESC
 LIMIT 1`, supporterID, creatorID)
}

func (r *subscriptionsRepo) Transition(ctx context.Context, id string, from, to models.SubscriptionStatus, patch models.SubscriptionPatch) (models.Subscription, error) {
	s, err := r.one(ctx, `
UPDATE subscriptions
   SET status = $3,
       external_id = COALESCE(NULLIF($4, ''), external_id),
       period_start = COALESCE($5, period_start),
       period_end = COALESCE($6, period_end),
       updated_at = now()
 WHERE id = $1 AND status = $2
RETURNING `+subColumns,
		id, from, to, patch.ExternalID, patch.PeriodStart, patch.PeriodEnd)
	if err == repo.ErrNotFound {
		return models.Subscription{}, repo.ErrConflict
	}
	return s, err
}
