package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type EmailJobStatus string

const (
	EmailPending    EmailJobStatus = "pending"
	EmailProcessing EmailJobStatus = "processing"
	EmailSent       EmailJobStatus = "sent"
	EmailFailed     EmailJobStatus = "failed"
)

const DefaultMaxAttempts = 3

type NotificationType string

const (
	NotifyPaymentSuccess        NotificationType = "payment_success"
	NotifyNewSupporter          NotificationType = "new_supporter"
	NotifySubscriptionCancelled NotificationType = "subscription_cancelled"
	NotifyRenewalFailed         NotificationType = "renewal_failed"
)

type EmailJob struct {
	ID            string           `json:"id"`
	Recipient     string           `json:"recipient"`
	Type          NotificationType `json:"type"`
	Payload       json.RawMessage  `json:"payload"`
	Status        EmailJobStatus   `json:"status"`
	Attempts      int              `json:"attempts"`
	MaxAttempts   int              `json:"max_attempts"`
	NextAttemptAt time.Time        `json:"next_attempt_at"`
	LastError     *string          `json:"last_error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	SentAt        *time.Time       `json:"sent_at,omitempty"`
}

// Notification is one of the typed email payloads below.
type Notification interface {
	NotificationType() NotificationType
}

type PaymentSuccess struct {
	TransactionID string `json:"transaction_id"`
	CreatorName   string `json:"creator_name"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	TierLevel     int    `json:"tier_level"`
}

type NewSupporter struct {
	TransactionID string `json:"transaction_id"`
	SupporterName string `json:"supporter_name"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Message       string `json:"message,omitempty"`
}

type SubscriptionCancelled struct {
	CreatorName string `json:"creator_name"`
	Reason      string `json:"reason,omitempty"`
}

type RenewalFailed struct {
	CreatorName    string `json:"creator_name"`
	SubscriptionID string `json:"subscription_id"`
}

func (PaymentSuccess) NotificationType() NotificationType        { return NotifyPaymentSuccess }
func (NewSupporter) NotificationType() NotificationType          { return NotifyNewSupporter }
func (SubscriptionCancelled) NotificationType() NotificationType { return NotifySubscriptionCancelled }
func (RenewalFailed) NotificationType() NotificationType         { return NotifyRenewalFailed }

// NewEmailJob builds a pending job for n addressed to recipient.
func NewEmailJob(recipient string, n Notification) (EmailJob, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return EmailJob{}, fmt.Errorf("marshal %s payload: %w", n.NotificationType(), err)
	}
	return EmailJob{
		Recipient:   recipient,
		Type:        n.NotificationType(),
		Payload:     b,
		Status:      EmailPending,
		MaxAttempts: DefaultMaxAttempts,
	}, nil
}

// Notification decodes the job payload into its typed variant.
func (j EmailJob) Notification() (Notification, error) {
	var n Notification
	switch j.Type {
	case NotifyPaymentSuccess:
		n = &PaymentSuccess{}
	case NotifyNewSupporter:
		n = &NewSupporter{}
	case NotifySubscriptionCancelled:
		n = &SubscriptionCancelled{}
	case NotifyRenewalFailed:
		n = &RenewalFailed{}
	default:
		return nil, fmt.Errorf("unknown notification type %q", j.Type)
	}
	if err := json.Unmarshal(j.Payload, n); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return n, nil
}
