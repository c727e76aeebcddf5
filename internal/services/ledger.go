package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrPaymentNotCompleted is the generic failure shown when the
	// provider gave no reason of its own.
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrInvalidInput        = errors.New("invalid input")
)

// Ledger is the only writer of transaction status. Every transition is a
// compare-and-swap on the stored status.
type Ledger struct {
	txns  repo.Transactions
	audit repo.AuditLogs
	log   *slog.Logger
}

func NewLedger(t repo.Transactions, a repo.AuditLogs, log *slog.Logger) *Ledger {
	return &Ledger{txns: t, audit: a, log: log}
}

// ----------------- Helpers -----------------

func (l *Ledger) record(ctx context.Context, txID, action string, details map[string]any) {
	entry := models.AuditLog{
		EntityType: "transaction",
		EntityID:   &txID,
		Action:     action,
		Details:    details,
	}
	if err := l.audit.Create(ctx, entry); err != nil {
		l.log.Warn("audit log write failed", "transaction_id", txID, "action", action, "err", err)
	}
}

// ----------------- Reads -----------------

func (l *Ledger) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return l.txns.GetByID(ctx, id)
}

func (l *Ledger) GetByGatewayRef(ctx context.Context, gateway, ref string) (models.Transaction, error) {
	return l.txns.GetByGatewayRef(ctx, gateway, ref)
}

func (l *Ledger) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	return l.txns.ListStalePending(ctx, before, limit)
}

// ----------------- Writes -----------------

// Create stores a new pending transaction.
func (l *Ledger) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if !tx.Amount.IsPositive() {
		return models.Transaction{}, errors.New("amount must be > 0")
	}
	if tx.Gateway == "" || tx.GatewayRef == "" {
		return models.Transaction{}, errors.New("gateway and gateway reference are required")
	}
	tx.Status = models.TxnPending
	tx.CompletedAt = nil
	created, err := l.txns.Create(ctx, tx)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	l.record(ctx, created.ID, "created", map[string]any{
		"gateway": created.Gateway, "gateway_ref": created.GatewayRef, "amount": created.Amount.String(),
	})
	return created, nil
}

// Transition moves id from -> to. It returns ErrInvalidStateTransition
// for a disallowed pair and repo.ErrConflict when the stored status is no
// longer from.
func (l *Ledger) Transition(ctx context.Context, id string, from, to models.TransactionStatus, patch models.TransitionPatch) (models.Transaction, error) {
	if !models.CanTransition(from, to) {
		return models.Transaction{}, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
	}
	tx, err := l.txns.Transition(ctx, id, from, to, patch)
	if err != nil {
		return models.Transaction{}, err
	}
	l.record(ctx, id, "status_change", map[string]any{"from": string(from), "to": string(to)})
	return tx, nil
}

// MarkFailed ends a pending transaction as failed or cancelled. Re-entry
// on a row already in that status is a no-op.
func (l *Ledger) MarkFailed(ctx context.Context, id string, to models.TransactionStatus, reason string, payload []byte) (models.Transaction, error) {
	if to != models.TxnFailed && to != models.TxnCancelled {
		return models.Transaction{}, fmt.Errorf("%w: cannot mark %s as failure", ErrInvalidStateTransition, to)
	}
	tx, err := l.Transition(ctx, id, models.TxnPending, to, models.TransitionPatch{Metadata: payload})
	if err == nil {
		l.log.Info("transaction closed", "transaction_id", id, "status", to, "reason", reason)
		return tx, nil
	}
	if !errors.Is(err, repo.ErrConflict) {
		return models.Transaction{}, err
	}
	cur, gerr := l.txns.GetByID(ctx, id)
	if gerr != nil {
		return models.Transaction{}, gerr
	}
	if cur.Status == to {
		return cur, nil
	}
	return cur, fmt.Errorf("%w: transaction is %s", ErrInvalidStateTransition, cur.Status)
}
