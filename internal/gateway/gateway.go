// Package gateway defines the provider-neutral payment contract. Each
// provider lives in its own sub-package and never touches storage: callers
// own transaction creation and every ledger transition.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type InitiateRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	SupporterID   string
	CreatorID     string
	CreatorName   string
	TierLevel     int
	Message       string
	// Recurring asks for a billing subscription instead of a one-off charge.
	Recurring bool
}

type Initiation struct {
	CorrelationID string
	Currency      string
	// RedirectURL is where the client is sent next. Form-post gateways also
	// return the fields to submit with it.
	RedirectURL string
	FormFields  map[string]string
	ClientToken string
	Metadata    json.RawMessage
}

type VerifyRequest struct {
	CorrelationID string
	Amount        decimal.Decimal
	// CallbackData is the raw provider callback forwarded by the client,
	// when the gateway signs one.
	CallbackData string
}

type Verification struct {
	Status          Status
	ExternalRef     string
	SubscriptionRef string
	// Reason is the provider's own description of a non-success status.
	Reason     string
	RawPayload json.RawMessage
}

type Adapter interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (Initiation, error)
	Verify(ctx context.Context, req VerifyRequest) (Verification, error)
	CancelSubscription(ctx context.Context, externalRef string) error
}

// Registry resolves adapters by provider name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}
	return a, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CheckAmount enforces a gateway's minimum and its currency precision.
func CheckAmount(gateway string, amount, minimum decimal.Decimal, places int32) error {
	if !amount.IsPositive() {
		return &Error{Gateway: gateway, Op: "initiate", Kind: ErrBelowMinimum, Err: fmt.Errorf("amount must be > 0")}
	}
	if amount.LessThan(minimum) {
		return &Error{Gateway: gateway, Op: "initiate", Kind: ErrBelowMinimum,
			Err: fmt.Errorf("amount %s is below minimum %s", amount, minimum)}
	}
	if !amount.Round(places).Equal(amount) {
		return &Error{Gateway: gateway, Op: "initiate", Kind: ErrBelowMinimum,
			Err: fmt.Errorf("amount %s has more than %d decimal places", amount, places)}
	}
	return nil
}
