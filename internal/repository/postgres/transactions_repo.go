package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const txnColumns = `id, supporter_id, creator_id, amount::text, currency, gateway, gateway_ref,
  status, tier_level, message, metadata, created_at, completed_at, payout_id`

func scanTxn(row pgx.Row) (models.Transaction, error) {
	var (
		tx     models.Transaction
		amount string
		meta   []byte
	)
	err := row.Scan(&tx.ID, &tx.SupporterID, &tx.CreatorID, &amount, &tx.Currency, &tx.Gateway, &tx.GatewayRef,
		&tx.Status, &tx.TierLevel, &tx.Message, &meta, &tx.CreatedAt, &tx.CompletedAt, &tx.PayoutID)
	if err != nil {
		return models.Transaction{}, mapErr(err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return models.Transaction{}, err
	}
	tx.Metadata = meta
	return tx, nil
}

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	q := `
INSERT INTO transactions (
  id, supporter_id, creator_id, amount, currency, gateway, gateway_ref, status, tier_level, message, metadata
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING ` + txnColumns
	return scanTxn(r.pool.QueryRow(ctx, q,
		tx.ID, tx.SupporterID, tx.CreatorID, tx.Amount, tx.Currency, tx.Gateway, tx.GatewayRef,
		tx.Status, tx.TierLevel, tx.Message, jsonOrNull(tx.Metadata),
	))
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return scanTxn(r.pool.QueryRow(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id=$1`, id))
}

func (r *transactionsRepo) GetByGatewayRef(ctx context.Context, gateway, ref string) (models.Transaction, error) {
	return scanTxn(r.pool.QueryRow(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE gateway=$1 AND gateway_ref=$2`, gateway, ref))
}

// Transition is the ledger's compare-and-swap: the WHERE clause on status
// makes exactly one of two racing writers succeed.
func (r *transactionsRepo) Transition(ctx context.Context, id string, from, to models.TransactionStatus, patch models.TransitionPatch) (models.Transaction, error) {
	q := `
UPDATE transactions
   SET status = $3,
       completed_at = COALESCE($4, completed_at),
       metadata = COALESCE($5, metadata)
 WHERE id = $1 AND status = $2
RETURNING ` + txnColumns
	tx, err := scanTxn(r.pool.QueryRow(ctx, q, id, from, to, patch.CompletedAt, jsonOrNull(patch.Metadata)))
	if err == repo.ErrNotFound {
		return models.Transaction{}, repo.ErrConflict
	}
	return tx, err
}

func (r *transactionsRepo) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+txnColumns+`
		   FROM transactions
		  WHERE status='pending' AND created_at < $1
		  ORDER BY created_at
		  LIMIT $2`,
		createdBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func jsonOrNull(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
