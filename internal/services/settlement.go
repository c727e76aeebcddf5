package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/baharkarakas/supportpay/internal/gateway"
	"github.com/baharkarakas/supportpay/internal/metrics"
	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

var ErrPartialFanout = errors.New("partial fan-out failure")

// Fan-out legs, named in logs and in FanoutError.
const (
	LegMembership   = "membership"
	LegEarnings     = "earnings"
	LegSubscription = "subscription"
	LegChannels     = "channels"
	LegNotifyFan    = "notify_supporter"
	LegNotifyOwner  = "notify_creator"
	LegSuppression  = "suppression"
	LegUpstream     = "upstream_cancel"
)

type LegError struct {
	Leg string
	Err error
}

// FanoutError reports side effects that failed after the authoritative
// write succeeded. Nothing was rolled back.
type FanoutError struct {
	TransactionID string
	Legs          []LegError
}

func (e *FanoutError) Error() string {
	parts := make([]string, 0, len(e.Legs))
	for _, l := range e.Legs {
		parts = append(parts, l.Leg+": "+l.Err.Error())
	}
	return fmt.Sprintf("%v for %s: %s", ErrPartialFanout, e.TransactionID, strings.Join(parts, "; "))
}

func (e *FanoutError) Is(target error) bool { return target == ErrPartialFanout }

func (e *FanoutError) Unwrap() []error {
	out := make([]error, 0, len(e.Legs))
	for _, l := range e.Legs {
		out = append(out, l.Err)
	}
	return out
}

// FailedLegs lists leg names in the order they failed.
func (e *FanoutError) FailedLegs() []string {
	out := make([]string, 0, len(e.Legs))
	for _, l := range e.Legs {
		out = append(out, l.Leg)
	}
	return out
}

type fanout struct {
	id   string
	log  *slog.Logger
	legs []LegError
}

func (f *fanout) run(leg string, fn func() error) {
	if err := fn(); err != nil {
		f.log.Error("fan-out leg failed", "leg", leg, "transaction_id", f.id, "err", err)
		metrics.FanoutFailures.WithLabelValues(leg).Inc()
		f.legs = append(f.legs, LegError{Leg: leg, Err: err})
		return
	}
	f.log.Debug("fan-out leg done", "leg", leg, "transaction_id", f.id)
}

func (f *fanout) err() error {
	if len(f.legs) == 0 {
		return nil
	}
	return &FanoutError{TransactionID: f.id, Legs: f.legs}
}

type Outcome string

const (
	NewlySettled   Outcome = "newly_settled"
	AlreadySettled Outcome = "already_settled"
)

type SettleInput struct {
	TransactionID string
	Verification  gateway.Verification
	// TierLevel overrides the tier stored on the transaction when > 0.
	TierLevel int
}

type SettleResult struct {
	Transaction models.Transaction
	Outcome     Outcome
}

type Settlement struct {
	ledger        *Ledger
	memberships   repo.Memberships
	earnings      repo.Earnings
	subscriptions repo.Subscriptions
	channels      ChannelSync
	dir           directory
	log           *slog.Logger
	now           func() time.Time
}

func NewSettlement(l *Ledger, r repo.Repositories, ch ChannelSync, n Notifier, log *slog.Logger) *Settlement {
	return &Settlement{
		ledger:        l,
		memberships:   r.Memberships,
		earnings:      r.Earnings,
		subscriptions: r.Subscriptions,
		channels:      ch,
		dir:           directory{users: r.Users, suppressions: r.Suppressions, notifier: n},
		log:           log,
		now:           time.Now,
	}
}

// Settle completes a pending transaction and runs its side effects once.
// A *FanoutError is returned together with a valid result.
func (s *Settlement) Settle(ctx context.Context, in SettleInput) (SettleResult, error) {
	if in.Verification.Status != gateway.StatusSucceeded {
		return SettleResult{}, fmt.Errorf("%w: verification is %s", ErrPaymentNotCompleted, in.Verification.Status)
	}

	tx, err := s.ledger.GetByID(ctx, in.TransactionID)
	if err != nil {
		return SettleResult{}, err
	}
	switch tx.Status {
	case models.TxnCompleted:
		metrics.Settlements.WithLabelValues(tx.Gateway, string(AlreadySettled)).Inc()
		return SettleResult{Transaction: tx, Outcome: AlreadySettled}, nil
	case models.TxnFailed, models.TxnCancelled:
		metrics.Settlements.WithLabelValues(tx.Gateway, "rejected").Inc()
		return SettleResult{Transaction: tx}, fmt.Errorf("%w: transaction is %s", ErrInvalidStateTransition, tx.Status)
	}

	now := s.now().UTC()
	patch := models.TransitionPatch{CompletedAt: &now, Metadata: in.Verification.RawPayload}
	settled, err := s.ledger.Transition(ctx, tx.ID, models.TxnPending, models.TxnCompleted, patch)
	if errors.Is(err, repo.ErrConflict) {
		cur, gerr := s.ledger.GetByID(ctx, tx.ID)
		if gerr != nil {
			return SettleResult{}, gerr
		}
		if cur.Status == models.TxnCompleted {
			metrics.Settlements.WithLabelValues(tx.Gateway, string(AlreadySettled)).Inc()
			return SettleResult{Transaction: cur, Outcome: AlreadySettled}, nil
		}
		return SettleResult{Transaction: cur}, fmt.Errorf("%w: transaction is %s", ErrInvalidStateTransition, cur.Status)
	}
	if err != nil {
		return SettleResult{}, fmt.Errorf("complete transaction: %w", err)
	}
	metrics.Settlements.WithLabelValues(settled.Gateway, string(NewlySettled)).Inc()

	tier := settled.TierLevel
	if in.TierLevel > 0 {
		tier = in.TierLevel
	}
	res := SettleResult{Transaction: settled, Outcome: NewlySettled}
	return res, s.fanOut(ctx, settled, tier, in.Verification)
}

func (s *Settlement) fanOut(ctx context.Context, tx models.Transaction, tier int, v gateway.Verification) error {
	f := &fanout{id: tx.ID, log: s.log}

	f.run(LegMembership, func() error {
		_, err := s.memberships.Upsert(ctx, tx.SupporterID, tx.CreatorID, tier, tx.Amount)
		return err
	})
	f.run(LegEarnings, func() error {
		created, err := s.earnings.Create(ctx, models.SplitEarnings(tx))
		if err == nil && !created {
			s.log.Warn("earnings already recorded", "transaction_id", tx.ID)
		}
		return err
	})
	f.run(LegSubscription, func() error { return s.activateSubscription(ctx, tx, v) })
	f.run(LegChannels, func() error {
		_, err := s.channels.Add(ctx, tx.SupporterID, tx.CreatorID, tier)
		return err
	})
	f.run(LegNotifyFan, func() error {
		_, err := s.dir.notify(ctx, tx.SupporterID, tx.SupporterID, tx.CreatorID, models.PaymentSuccess{
			TransactionID: tx.ID,
			CreatorName:   s.dir.displayName(ctx, tx.CreatorID),
			Amount:        tx.Amount.StringFixed(2),
			Currency:      tx.Currency,
			TierLevel:     tier,
		})
		return err
	})
	f.run(LegNotifyOwner, func() error {
		_, err := s.dir.notify(ctx, tx.CreatorID, tx.SupporterID, tx.CreatorID, models.NewSupporter{
			TransactionID: tx.ID,
			SupporterName: s.dir.displayName(ctx, tx.SupporterID),
			Amount:        tx.Amount.StringFixed(2),
			Currency:      tx.Currency,
			Message:       tx.Message,
		})
		return err
	})
	return f.err()
}

// activateSubscription is a no-op for one-off payments and renewals.
func (s *Settlement) activateSubscription(ctx context.Context, tx models.Transaction, v gateway.Verification) error {
	sub, err := s.subscriptions.GetByTransaction(ctx, tx.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status != models.SubPending {
		return nil
	}
	start := s.now().UTC()
	end := start.AddDate(0, 1, 0)
	_, err = s.subscriptions.Transition(ctx, sub.ID, models.SubPending, models.SubActive, models.SubscriptionPatch{
		ExternalID:  v.SubscriptionRef,
		PeriodStart: &start,
		PeriodEnd:   &end,
	})
	if errors.Is(err, repo.ErrConflict) {
		return nil
	}
	return err
}
