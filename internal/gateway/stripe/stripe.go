// Package stripe implements the checkout/webhook gateway on stripe-go.
// The API client is injected; the package never sets the global key.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/baharkarakas/supportpay/internal/gateway"
)

const Name = "stripe"

var minAmount = decimal.RequireFromString("0.50")

// SessionAPI is the part of the checkout session client the adapter uses.
type SessionAPI interface {
	New(params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
	Get(id string, params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
}

type SubscriptionAPI interface {
	Cancel(id string, params *stripego.SubscriptionCancelParams) (*stripego.Subscription, error)
}

type Config struct {
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
}

type Adapter struct {
	cfg      Config
	sessions SessionAPI
	subs     SubscriptionAPI
}

func New(cfg Config, sessions SessionAPI, subs SubscriptionAPI) *Adapter {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	cfg.Currency = strings.ToLower(cfg.Currency)
	return &Adapter{cfg: cfg, sessions: sessions, subs: subs}
}

// FromClient wires the adapter to a configured stripe-go API client.
func FromClient(cfg Config, api *client.API) *Adapter {
	return New(cfg, api.CheckoutSessions, api.Subscriptions)
}

func (a *Adapter) Name() string { return Name }

func unavailable(op string, err error) error {
	var se *stripego.Error
	if errors.As(err, &se) {
		return gateway.Unavailable(Name, op, se.HTTPStatusCode, err)
	}
	return gateway.Unavailable(Name, op, 0, err)
}

func (a *Adapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (gateway.Initiation, error) {
	if err := gateway.CheckAmount(Name, req.Amount, minAmount, 2); err != nil {
		return gateway.Initiation{}, err
	}
	cents := req.Amount.Shift(2).IntPart()

	price := &stripego.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripego.String(a.cfg.Currency),
		UnitAmount: stripego.Int64(cents),
		ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripego.String(fmt.Sprintf("Support %s (tier %d)", req.CreatorName, req.TierLevel)),
		},
	}
	mode := stripego.CheckoutSessionModePayment
	if req.Recurring {
		mode = stripego.CheckoutSessionModeSubscription
		price.Recurring = &stripego.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripego.String(string(stripego.PriceRecurringIntervalMonth)),
		}
	}

	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(mode)),
		SuccessURL:        stripego.String(a.cfg.SuccessURL),
		CancelURL:         stripego.String(a.cfg.CancelURL),
		ClientReferenceID: stripego.String(req.TransactionID),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{PriceData: price, Quantity: stripego.Int64(1)},
		},
	}
	params.Context = ctx
	params.AddMetadata("transaction_id", req.TransactionID)
	params.AddMetadata("supporter_id", req.SupporterID)
	params.AddMetadata("creator_id", req.CreatorID)
	params.AddMetadata("tier_level", fmt.Sprint(req.TierLevel))
	if req.Recurring {
		params.SubscriptionData = &stripego.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"supporter_id": req.SupporterID,
				"creator_id":   req.CreatorID,
				"tier_level":   fmt.Sprint(req.TierLevel),
			},
		}
	}

	sess, err := a.sessions.New(params)
	if err != nil {
		return gateway.Initiation{}, unavailable("create-session", err)
	}
	return gateway.Initiation{
		CorrelationID: sess.ID,
		Currency:      strings.ToUpper(a.cfg.Currency),
		RedirectURL:   sess.URL,
	}, nil
}

// SessionVerification maps a checkout session onto the common status.
func SessionVerification(sess *stripego.CheckoutSession) gateway.Verification {
	raw, _ := json.Marshal(sess)
	v := gateway.Verification{RawPayload: raw}
	if sess.PaymentIntent != nil {
		v.ExternalRef = sess.PaymentIntent.ID
	}
	if sess.Subscription != nil {
		v.SubscriptionRef = sess.Subscription.ID
	}
	switch {
	case sess.Status == stripego.CheckoutSessionStatusComplete &&
		(sess.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid ||
			sess.PaymentStatus == stripego.CheckoutSessionPaymentStatusNoPaymentRequired):
		v.Status = gateway.StatusSucceeded
	case sess.Status == stripego.CheckoutSessionStatusExpired:
		v.Status = gateway.StatusCancelled
		v.Reason = "checkout session expired"
	default:
		v.Status = gateway.StatusPending
		v.Reason = fmt.Sprintf("session %s, payment %s", sess.Status, sess.PaymentStatus)
	}
	return v
}

func (a *Adapter) Verify(ctx context.Context, req gateway.VerifyRequest) (gateway.Verification, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := a.sessions.Get(req.CorrelationID, params)
	if err != nil {
		return gateway.Verification{}, unavailable("get-session", err)
	}
	return SessionVerification(sess), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, externalRef string) error {
	params := &stripego.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := a.subs.Cancel(externalRef, params); err != nil {
		return unavailable("cancel-subscription", err)
	}
	return nil
}

// Event is one of the webhook variants below.
type Event interface {
	eventID() string
}

type SessionCompleted struct {
	ID           string
	SessionID    string
	Verification gateway.Verification
}

// SessionEnded covers sessions that expired or whose async payment failed.
type SessionEnded struct {
	ID        string
	SessionID string
	Status    gateway.Status
	Reason    string
}

type InvoicePaid struct {
	ID             string
	InvoiceID      string
	SubscriptionID string
	PaymentRef     string
	Amount         decimal.Decimal
	Currency       string
	// Renewal is false for the invoice paid as part of the first checkout.
	Renewal     bool
	PeriodStart time.Time
	PeriodEnd   time.Time
	Raw         json.RawMessage
}

type InvoicePaymentFailed struct {
	ID             string
	InvoiceID      string
	SubscriptionID string
}

type SubscriptionDeleted struct {
	ID             string
	SubscriptionID string
}

type Ignored struct {
	ID   string
	Type string
}

func (e SessionCompleted) eventID() string     { return e.ID }
func (e SessionEnded) eventID() string         { return e.ID }
func (e InvoicePaid) eventID() string          { return e.ID }
func (e InvoicePaymentFailed) eventID() string { return e.ID }
func (e SubscriptionDeleted) eventID() string  { return e.ID }
func (e Ignored) eventID() string              { return e.ID }

// ParseEvent checks the Stripe-Signature header and decodes the event.
func (a *Adapter) ParseEvent(payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, a.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, gateway.InvalidSignature(Name, err)
	}
	if ev.Data == nil {
		return Ignored{ID: ev.ID, Type: string(ev.Type)}, nil
	}

	switch string(ev.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var sess stripego.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("stripe: decode session: %w", err)
		}
		return SessionCompleted{ID: ev.ID, SessionID: sess.ID, Verification: SessionVerification(&sess)}, nil

	case "checkout.session.expired":
		var sess stripego.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("stripe: decode session: %w", err)
		}
		return SessionEnded{ID: ev.ID, SessionID: sess.ID, Status: gateway.StatusCancelled, Reason: "checkout session expired"}, nil

	case "checkout.session.async_payment_failed":
		var sess stripego.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("stripe: decode session: %w", err)
		}
		return SessionEnded{ID: ev.ID, SessionID: sess.ID, Status: gateway.StatusFailed, Reason: "async payment failed"}, nil

	case "invoice.paid":
		var inv stripego.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("stripe: decode invoice: %w", err)
		}
		out := InvoicePaid{
			ID:          ev.ID,
			InvoiceID:   inv.ID,
			Amount:      decimal.New(inv.AmountPaid, -2),
			Currency:    strings.ToUpper(string(inv.Currency)),
			Renewal:     inv.BillingReason == stripego.InvoiceBillingReasonSubscriptionCycle,
			PeriodStart: time.Unix(inv.PeriodStart, 0).UTC(),
			PeriodEnd:   time.Unix(inv.PeriodEnd, 0).UTC(),
			Raw:         ev.Data.Raw,
		}
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
		if inv.PaymentIntent != nil {
			out.PaymentRef = inv.PaymentIntent.ID
		}
		return out, nil

	case "invoice.payment_failed":
		var inv stripego.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("stripe: decode invoice: %w", err)
		}
		out := InvoicePaymentFailed{ID: ev.ID, InvoiceID: inv.ID}
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
		return out, nil

	case "customer.subscription.deleted":
		var sub stripego.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("stripe: decode subscription: %w", err)
		}
		return SubscriptionDeleted{ID: ev.ID, SubscriptionID: sub.ID}, nil
	}
	return Ignored{ID: ev.ID, Type: string(ev.Type)}, nil
}
