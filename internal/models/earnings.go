package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformCutPercent is the platform's share of every completed transaction.
const PlatformCutPercent = 10

var platformRate = decimal.New(PlatformCutPercent, -2)

// Earnings is written once per completed transaction and never updated.
type Earnings struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	CreatorID     string          `json:"creator_id"`
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	PlatformCut   decimal.Decimal `json:"platform_cut"`
	CreatorShare  decimal.Decimal `json:"creator_share"`
	Currency      string          `json:"currency"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SplitEarnings computes the authoritative platform/creator split for tx.
// The cut is rounded half-up to cents and the creator receives the rest,
// so the two parts always sum to the gross amount.
func SplitEarnings(tx Transaction) Earnings {
	cut := tx.Amount.Mul(platformRate).Round(2)
	return Earnings{
		TransactionID: tx.ID,
		CreatorID:     tx.CreatorID,
		GrossAmount:   tx.Amount,
		PlatformCut:   cut,
		CreatorShare:  tx.Amount.Sub(cut),
		Currency:      tx.Currency,
	}
}
