package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/gateway"
	"github.com/baharkarakas/supportpay/internal/gateway/esewa"
	stripegw "github.com/baharkarakas/supportpay/internal/gateway/stripe"
	"github.com/baharkarakas/supportpay/internal/metrics"
	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

type StripeEvents interface {
	ParseEvent(payload []byte, signature string) (stripegw.Event, error)
}

type EsewaCallbacks interface {
	ParseCallback(data string) (esewa.Callback, []byte, error)
}

// WebhookService applies provider-pushed events. Signatures are checked
// before anything is read or written.
type WebhookService struct {
	payments *PaymentService
	ledger   *Ledger
	settle   *Settlement
	reversal *Reversal
	subs     repo.Subscriptions
	dir      directory
	stripe   StripeEvents
	esewa    EsewaCallbacks
	log      *slog.Logger
}

type WebhookDeps struct {
	Payments *PaymentService
	Ledger   *Ledger
	Settle   *Settlement
	Reversal *Reversal
	Repos    repo.Repositories
	Notifier Notifier
	Stripe   StripeEvents
	Esewa    EsewaCallbacks
	Log      *slog.Logger
}

func NewWebhookService(d WebhookDeps) *WebhookService {
	return &WebhookService{
		payments: d.Payments,
		ledger:   d.Ledger,
		settle:   d.Settle,
		reversal: d.Reversal,
		subs:     d.Repos.Subscriptions,
		dir:      directory{users: d.Repos.Users, suppressions: d.Repos.Suppressions, notifier: d.Notifier},
		stripe:   d.Stripe,
		esewa:    d.Esewa,
		log:      d.Log,
	}
}

func (w *WebhookService) result(gw string, err error) {
	res := "ok"
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrInvalidSignature):
		res = "bad_signature"
	case errors.Is(err, repo.ErrNotFound):
		res = "unknown_reference"
	default:
		res = "error"
	}
	metrics.WebhookEvents.WithLabelValues(gw, res).Inc()
}

// ----------------- Stripe -----------------

func (w *WebhookService) HandleStripe(ctx context.Context, payload []byte, signature string) (err error) {
	defer func() { w.result(stripegw.Name, err) }()
	if w.stripe == nil {
		return fmt.Errorf("%w: stripe is not configured", gateway.ErrUnknownGateway)
	}

	ev, err := w.stripe.ParseEvent(payload, signature)
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case stripegw.SessionCompleted:
		tx, err := w.ledger.GetByGatewayRef(ctx, stripegw.Name, e.SessionID)
		if err != nil {
			return err
		}
		return w.applyPaid(ctx, tx, e.Verification)

	case stripegw.SessionEnded:
		tx, err := w.ledger.GetByGatewayRef(ctx, stripegw.Name, e.SessionID)
		if err != nil {
			return err
		}
		_, err = w.payments.apply(ctx, tx, gateway.Verification{Status: e.Status, Reason: e.Reason})
		if errors.Is(err, ErrInvalidStateTransition) {
			// Completed in the meantime; nothing to close.
			return nil
		}
		return err

	case stripegw.InvoicePaid:
		return w.stripeRenewal(ctx, e)

	case stripegw.InvoicePaymentFailed:
		return w.stripeRenewalFailed(ctx, e)

	case stripegw.SubscriptionDeleted:
		sub, err := w.subs.GetByExternalID(ctx, stripegw.Name, e.SubscriptionID)
		if err != nil {
			return err
		}
		_, err = w.reversal.Unsubscribe(ctx, UnsubscribeInput{
			SupporterID: sub.SupporterID,
			CreatorID:   sub.CreatorID,
			Reason:      "subscription ended",
			Expired:     true,
		})
		if errors.Is(err, ErrPartialFanout) {
			return nil
		}
		return err

	case stripegw.Ignored:
		w.log.Debug("stripe event ignored", "event_id", e.ID, "type", e.Type)
		return nil
	}
	return fmt.Errorf("unhandled stripe event %T", ev)
}

// stripeRenewal records a recurring charge as its own transaction keyed by
// the invoice id, so redeliveries settle the same row.
func (w *WebhookService) stripeRenewal(ctx context.Context, e stripegw.InvoicePaid) error {
	if !e.Renewal {
		// The first invoice is settled through its checkout session.
		return nil
	}
	sub, err := w.subs.GetByExternalID(ctx, stripegw.Name, e.SubscriptionID)
	if err != nil {
		return err
	}

	tx, err := w.ledger.Create(ctx, models.Transaction{
		ID:          uuid.NewString(),
		SupporterID: sub.SupporterID,
		CreatorID:   sub.CreatorID,
		Amount:      e.Amount,
		Currency:    e.Currency,
		Gateway:     stripegw.Name,
		GatewayRef:  e.InvoiceID,
		TierLevel:   sub.TierLevel,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		tx, err = w.ledger.GetByGatewayRef(ctx, stripegw.Name, e.InvoiceID)
	}
	if err != nil {
		return err
	}

	_, err = w.settle.Settle(ctx, SettleInput{
		TransactionID: tx.ID,
		Verification:  gateway.Verification{Status: gateway.StatusSucceeded, ExternalRef: e.PaymentRef, RawPayload: e.Raw},
		TierLevel:     sub.TierLevel,
	})
	if err != nil && !errors.Is(err, ErrPartialFanout) {
		return err
	}

	if sub.Status == models.SubActive || sub.Status == models.SubPastDue {
		start, end := e.PeriodStart, e.PeriodEnd
		if _, err := w.subs.Transition(ctx, sub.ID, sub.Status, models.SubActive,
			models.SubscriptionPatch{PeriodStart: &start, PeriodEnd: &end}); err != nil && !errors.Is(err, repo.ErrConflict) {
			w.log.Warn("extend subscription period", "subscription_id", sub.ID, "err", err)
		}
	}
	return nil
}

func (w *WebhookService) stripeRenewalFailed(ctx context.Context, e stripegw.InvoicePaymentFailed) error {
	sub, err := w.subs.GetByExternalID(ctx, stripegw.Name, e.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Status != models.SubActive {
		return nil
	}
	if _, err := w.subs.Transition(ctx, sub.ID, models.SubActive, models.SubPastDue, models.SubscriptionPatch{}); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil
		}
		return err
	}
	if _, err := w.dir.notify(ctx, sub.SupporterID, sub.SupporterID, sub.CreatorID, models.RenewalFailed{
		CreatorName:    w.dir.displayName(ctx, sub.CreatorID),
		SubscriptionID: sub.ID,
	}); err != nil {
		w.log.Error("fan-out leg failed", "leg", LegNotifyFan, "subscription_id", sub.ID, "err", err)
	}
	return nil
}

// ----------------- eSewa -----------------

// HandleEsewa applies a signed status callback without a provider call.
func (w *WebhookService) HandleEsewa(ctx context.Context, data string) (err error) {
	defer func() { w.result(esewa.Name, err) }()
	if w.esewa == nil {
		return fmt.Errorf("%w: esewa is not configured", gateway.ErrUnknownGateway)
	}

	cb, raw, err := w.esewa.ParseCallback(data)
	if err != nil {
		return err
	}
	tx, err := w.ledger.GetByGatewayRef(ctx, esewa.Name, cb.TransactionUUID)
	if err != nil {
		return err
	}
	paid, err := decimal.NewFromString(strings.ReplaceAll(cb.TotalAmount, ",", ""))
	if err != nil || !paid.Equal(tx.Amount) {
		return gateway.InvalidSignature(esewa.Name, fmt.Errorf("callback amount %q does not match %s", cb.TotalAmount, tx.Amount))
	}
	v, err := esewa.VerificationFromCallback(cb, raw)
	if err != nil {
		return err
	}
	return w.applyPaid(ctx, tx, v)
}

// applyPaid settles a provider-confirmed payment. A row that was already
// closed cannot change, so the event is acknowledged and left in the audit
// trail for reconciliation: the provider captured the money.
func (w *WebhookService) applyPaid(ctx context.Context, tx models.Transaction, v gateway.Verification) error {
	_, err := w.payments.apply(ctx, tx, v)
	if !errors.Is(err, ErrInvalidStateTransition) {
		return err
	}
	status := tx.Status
	if cur, gerr := w.ledger.GetByID(ctx, tx.ID); gerr == nil {
		status = cur.Status
	}
	w.log.Error("paid event on closed transaction", "transaction_id", tx.ID, "gateway", tx.Gateway,
		"status", status, "external_ref", v.ExternalRef)
	w.ledger.record(ctx, tx.ID, "paid_event_on_closed_transaction", map[string]any{
		"gateway":      tx.Gateway,
		"status":       string(status),
		"external_ref": v.ExternalRef,
		"amount":       tx.Amount.String(),
	})
	return nil
}
