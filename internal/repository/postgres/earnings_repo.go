package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/models"
)

type earningsRepo struct{ pool *pgxpool.Pool }

func (r *earningsRepo) Create(ctx context.Context, e models.Earnings) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	tag, err := r.pool.Exec(ctx, `
INSERT INTO platform_earnings (id, transaction_id, creator_id, gross_amount, platform_cut, creator_share, currency)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (transaction_id) DO NOTHING`,
		e.ID, e.TransactionID, e.CreatorID, e.GrossAmount, e.PlatformCut, e.CreatorShare, e.Currency)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *earningsRepo) GetByTransaction(ctx context.Context, transactionID string) (models.Earnings, error) {
	var (
		e                 models.Earnings
		gross, cut, share string
	)
	err := r.pool.QueryRow(ctx, `
SELECT id, transaction_id, creator_id, gross_amount::text, platform_cut::text, creator_share::text, currency, created_at
  FROM platform_earnings WHERE transaction_id=$1`, transactionID).
		Scan(&e.ID, &e.TransactionID, &e.CreatorID, &gross, &cut, &share, &e.Currency, &e.CreatedAt)
	if err != nil {
		return models.Earnings{}, mapErr(err)
	}
	e.GrossAmount = decimal.RequireFromString(gross)
	e.PlatformCut = decimal.RequireFromString(cut)
	e.CreatorShare = decimal.RequireFromString(share)
	return e, nil
}
