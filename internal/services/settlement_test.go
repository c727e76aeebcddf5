package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/gateway"
	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

func TestSettleIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx := e.pending(t, "fake", "r1", "100.00")

	first, err := e.settle.Settle(ctx, SettleInput{TransactionID: tx.ID, Verification: succeeded})
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if first.Outcome != NewlySettled || first.Transaction.Status != models.TxnCompleted || first.Transaction.CompletedAt == nil {
		t.Fatalf("first = %+v", first)
	}

	writes := e.store.Writes()
	second, err := e.settle.Settle(ctx, SettleInput{TransactionID: tx.ID, Verification: succeeded})
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if second.Outcome != AlreadySettled {
		t.Fatalf("second outcome = %s", second.Outcome)
	}
	if e.store.Writes() != writes {
		t.Fatal("re-entry wrote to the store")
	}

	if e.store.EarningsCount() != 1 {
		t.Fatalf("earnings rows = %d", e.store.EarningsCount())
	}
	m, err := e.store.Repositories().Memberships.Get(ctx, "fan", "creator")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Active || m.TierLevel != 2 || !m.TotalAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("membership = %+v", m)
	}
	want := []models.NotificationType{models.NotifyPaymentSuccess, models.NotifyNewSupporter}
	if got := e.notifier.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("notifications = %v", got)
	}
	if e.channels.added != 1 {
		t.Fatalf("channel sync ran %d times", e.channels.added)
	}
}

func TestSettleWritesEarningsSplit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx := e.pending(t, "fake", "r1", "99.95")

	if _, err := e.settle.Settle(ctx, SettleInput{TransactionID: tx.ID, Verification: succeeded}); err != nil {
		t.Fatal(err)
	}
	rec, err := e.store.Repositories().Earnings.GetByTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.PlatformCut.Equal(decimal.RequireFromString("10.00")) || !rec.CreatorShare.Equal(decimal.RequireFromString("89.95")) {
		t.Fatalf("split = cut %s share %s", rec.PlatformCut, rec.CreatorShare)
	}
}

func TestSettleRejectsClosedTransaction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx := e.pending(t, "fake", "r1", "50")
	if _, err := e.ledger.MarkFailed(ctx, tx.ID, models.TxnCancelled, "user left", nil); err != nil {
		t.Fatal(err)
	}
	_, err := e.settle.Settle(ctx, SettleInput{TransactionID: tx.ID, Verification: succeeded})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("err = %v", err)
	}
	if e.store.EarningsCount() != 0 {
		t.Fatal("earnings written for a cancelled transaction")
	}
}

func TestSettleRequiresSuccess(t *testing.T) {
	e := newEnv(t)
	tx := e.pending(t, "fake", "r1", "50")
	_, err := e.settle.Settle(context.Background(), SettleInput{
		TransactionID: tx.ID, Verification: gateway.Verification{Status: gateway.StatusPending},
	})
	if !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("err = %v", err)
	}
}

func TestSettlePartialFanout(t *testing.T) {
	e := newEnv(t)
	e.channels.err = errors.New("broker down")
	e.notifier.err = errors.New("queue down")
	ctx := context.Background()
	tx := e.pending(t, "fake", "r1", "100")

	res, err := e.settle.Settle(ctx, SettleInput{TransactionID: tx.ID, Verification: succeeded})
	if !errors.Is(err, ErrPartialFanout) {
		t.Fatalf("err = %v", err)
	}
	var fe *FanoutError
	if !errors.As(err, &fe) {
		t.Fatalf("err is %T", err)
	}
	want := []string{LegChannels, LegNotifyFan, LegNotifyOwner}
	if !reflect.DeepEqual(fe.FailedLegs(), want) {
		t.Fatalf("failed legs = %v", fe.FailedLegs())
	}
	if res.Outcome != NewlySettled || res.Transaction.Status != models.TxnCompleted {
		t.Fatalf("result = %+v", res)
	}
	// The other legs still ran.
	if e.store.EarningsCount() != 1 {
		t.Fatal("earnings leg did not run")
	}
}

func TestSettleSkipsSuppressedNotifications(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.store.Repositories().Suppressions.Suppress(ctx, "fan", "creator", "muted"); err != nil {
		t.Fatal(err)
	}
	tx := e.pending(t, "fake", "r1", "100")
	if _, err := e.settle.Settle(ctx, SettleInput{TransactionID: tx.ID, Verification: succeeded}); err != nil {
		t.Fatal(err)
	}
	if n := len(e.notifier.types()); n != 0 {
		t.Fatalf("sent %d notifications to a suppressed pair", n)
	}
}

func TestSettleActivatesSubscription(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx := e.pending(t, "fake", "r1", "100")
	sub, err := e.store.Repositories().Subscriptions.Create(ctx, models.Subscription{
		TransactionID: tx.ID, SupporterID: "fan", CreatorID: "creator", Gateway: "fake", TierLevel: 2, Status: models.SubPending,
	})
	if err != nil {
		t.Fatal(err)
	}

	v := succeeded
	v.SubscriptionRef = "sub_ext_1"
	if _, err := e.settle.Settle(ctx, SettleInput{TransactionID: tx.ID, Verification: v}); err != nil {
		t.Fatal(err)
	}
	got, _ := e.store.Repositories().Subscriptions.GetByID(ctx, sub.ID)
	if got.Status != models.SubActive || got.ExternalID != "sub_ext_1" || got.PeriodEnd == nil {
		t.Fatalf("subscription = %+v", got)
	}
}

func TestLedgerRejectsInvalidTransition(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx := e.pending(t, "fake", "r1", "100")
	if _, err := e.ledger.Transition(ctx, tx.ID, models.TxnCompleted, models.TxnPending, models.TransitionPatch{}); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("err = %v", err)
	}
	if _, err := e.ledger.Transition(ctx, tx.ID, models.TxnPending, models.TxnFailed, models.TransitionPatch{}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ledger.Transition(ctx, tx.ID, models.TxnPending, models.TxnCompleted, models.TransitionPatch{}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("stale CAS err = %v", err)
	}
	if n := len(e.store.AuditTrail()); n != 2 {
		t.Fatalf("audit entries = %d, want create + one transition", n)
	}
}
