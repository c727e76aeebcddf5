package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
	TxnCancelled TransactionStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s TransactionStatus) Terminal() bool {
	return s == TxnCompleted || s == TxnFailed || s == TxnCancelled
}

// CanTransition allows only pending -> {completed, failed, cancelled}.
func CanTransition(from, to TransactionStatus) bool {
	return from == TxnPending && to.Terminal()
}

type Transaction struct {
	ID          string            `json:"id"`
	SupporterID string            `json:"supporter_id"`
	CreatorID   string            `json:"creator_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Gateway     string            `json:"gateway"`
	GatewayRef  string            `json:"gateway_ref"`
	Status      TransactionStatus `json:"status"`
	TierLevel   int               `json:"tier_level"`
	Message     string            `json:"message,omitempty"`
	Metadata    json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	PayoutID    *string           `json:"payout_id,omitempty"`
}

// TransitionPatch carries the fields a status transition may set. Amount
// is immutable after creation and has no place here.
type TransitionPatch struct {
	CompletedAt *time.Time
	Metadata    json.RawMessage
}
