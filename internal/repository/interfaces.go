package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("conditional update conflict")
	ErrDuplicate = errors.New("duplicate record")
)

// Repositories bundles one implementation of every store.
type Repositories struct {
	Transactions  Transactions
	Memberships   Memberships
	Subscriptions Subscriptions
	Earnings      Earnings
	EmailJobs     EmailJobs
	Channels      Channels
	Suppressions  Suppressions
	Users         Users
	AuditLogs     AuditLogs
}

// Transactions is the payment ledger. Rows are never deleted.
type Transactions interface {
	// Create returns ErrDuplicate when (gateway, gateway_ref) already exists.
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	GetByGatewayRef(ctx context.Context, gateway, ref string) (models.Transaction, error)
	// Transition applies to only when the stored status equals from,
	// otherwise ErrConflict.
	Transition(ctx context.Context, id string, from, to models.TransactionStatus, patch models.TransitionPatch) (models.Transaction, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Transaction, error)
}

type Memberships interface {
	// Upsert activates the membership, sets the tier and adds amount to
	// the running total.
	Upsert(ctx context.Context, supporterID, creatorID string, tier int, amount decimal.Decimal) (models.Membership, error)
	// Deactivate reports whether an active membership was switched off.
	Deactivate(ctx context.Context, supporterID, creatorID string) (bool, error)
	Get(ctx context.Context, supporterID, creatorID string) (models.Membership, error)
}

type Subscriptions interface {
	Create(ctx context.Context, s models.Subscription) (models.Subscription, error)
	GetByID(ctx context.Context, id string) (models.Subscription, error)
	GetByTransaction(ctx context.Context, transactionID string) (models.Subscription, error)
	GetByExternalID(ctx context.Context, gateway, externalID string) (models.Subscription, error)
	GetLiveByPair(ctx context.Context, supporterID, creatorID string) (models.Subscription, error)
	Transition(ctx context.Context, id string, from, to models.SubscriptionStatus, patch models.SubscriptionPatch) (models.Subscription, error)
}

type Earnings interface {
	// Create is a no-op returning created=false when the transaction
	// already has an earnings row.
	Create(ctx context.Context, e models.Earnings) (created bool, err error)
	GetByTransaction(ctx context.Context, transactionID string) (models.Earnings, error)
}

type EmailJobs interface {
	Create(ctx context.Context, job models.EmailJob) (models.EmailJob, error)
	// ListDue returns retryable jobs eligible at now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.EmailJob, error)
	// Claim marks a due job processing and increments its attempts.
	// ok is false when another worker claimed it first.
	Claim(ctx context.Context, id string, now time.Time) (job models.EmailJob, ok bool, err error)
	MarkSent(ctx context.Context, id string, now time.Time) error
	MarkFailedAttempt(ctx context.Context, id string, status models.EmailJobStatus, nextAttemptAt time.Time, lastError string) error
	GetByID(ctx context.Context, id string) (models.EmailJob, error)
}

type Channels interface {
	ListByCreator(ctx context.Context, creatorID string) ([]models.Channel, error)
}

type Suppressions interface {
	Suppress(ctx context.Context, supporterID, creatorID, reason string) error
	IsSuppressed(ctx context.Context, supporterID, creatorID string) (bool, error)
}

type Users interface {
	GetByID(ctx context.Context, id string) (models.User, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}
