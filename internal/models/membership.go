package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Membership struct {
	SupporterID string          `json:"supporter_id"`
	CreatorID   string          `json:"creator_id"`
	TierLevel   int             `json:"tier_level"`
	Active      bool            `json:"active"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
