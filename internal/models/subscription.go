package models

import "time"

type SubscriptionStatus string

const (
	SubPending   SubscriptionStatus = "pending"
	SubActive    SubscriptionStatus = "active"
	SubPastDue   SubscriptionStatus = "past_due"
	SubCancelled SubscriptionStatus = "cancelled"
	SubExpired   SubscriptionStatus = "expired"
)

// Live reports whether the subscription can still bill or be cancelled.
func (s SubscriptionStatus) Live() bool {
	return s == SubPending || s == SubActive || s == SubPastDue
}

type Subscription struct {
	ID            string             `json:"id"`
	TransactionID string             `json:"transaction_id"`
	SupporterID   string             `json:"supporter_id"`
	CreatorID     string             `json:"creator_id"`
	Gateway       string             `json:"gateway"`
	ExternalID    string             `json:"external_id,omitempty"`
	TierLevel     int                `json:"tier_level"`
	Status        SubscriptionStatus `json:"status"`
	PeriodStart   *time.Time         `json:"period_start,omitempty"`
	PeriodEnd     *time.Time         `json:"period_end,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// SubscriptionPatch is applied together with a status change.
type SubscriptionPatch struct {
	ExternalID  string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}
