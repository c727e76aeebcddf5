package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/gateway"
	"github.com/baharkarakas/supportpay/internal/metrics"
	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

type PaymentService struct {
	ledger   *Ledger
	settle   *Settlement
	subs     repo.Subscriptions
	users    repo.Users
	gateways *gateway.Registry
	log      *slog.Logger
	now      func() time.Time
}

func NewPaymentService(l *Ledger, s *Settlement, r repo.Repositories, gw *gateway.Registry, log *slog.Logger) *PaymentService {
	return &PaymentService{ledger: l, settle: s, subs: r.Subscriptions, users: r.Users, gateways: gw, log: log, now: time.Now}
}

type InitiateInput struct {
	Gateway     string
	SupporterID string
	CreatorID   string
	Amount      decimal.Decimal
	TierLevel   int
	Message     string
	Recurring   bool
}

type InitiateResult struct {
	Transaction models.Transaction
	Initiation  gateway.Initiation
}

// Initiate opens a payment with the provider and records it as pending.
// Provider-side rejections happen before any row is written.
func (s *PaymentService) Initiate(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	if in.SupporterID == "" || in.CreatorID == "" {
		return InitiateResult{}, fmt.Errorf("%w: supporter and creator are required", ErrInvalidInput)
	}
	if in.SupporterID == in.CreatorID {
		return InitiateResult{}, fmt.Errorf("%w: cannot support yourself", ErrInvalidInput)
	}
	if in.TierLevel < 1 {
		return InitiateResult{}, fmt.Errorf("%w: tier level must be >= 1", ErrInvalidInput)
	}
	adapter, err := s.gateways.Get(in.Gateway)
	if err != nil {
		return InitiateResult{}, err
	}
	creator, err := s.users.GetByID(ctx, in.CreatorID)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("creator %s: %w", in.CreatorID, err)
	}

	id := uuid.NewString()
	init, err := adapter.Initiate(ctx, gateway.InitiateRequest{
		TransactionID: id,
		Amount:        in.Amount,
		SupporterID:   in.SupporterID,
		CreatorID:     in.CreatorID,
		CreatorName:   creator.DisplayName,
		TierLevel:     in.TierLevel,
		Message:       in.Message,
		Recurring:     in.Recurring,
	})
	if err != nil {
		return InitiateResult{}, err
	}

	tx, err := s.ledger.Create(ctx, models.Transaction{
		ID:          id,
		SupporterID: in.SupporterID,
		CreatorID:   in.CreatorID,
		Amount:      in.Amount,
		Currency:    init.Currency,
		Gateway:     adapter.Name(),
		GatewayRef:  init.CorrelationID,
		TierLevel:   in.TierLevel,
		Message:     in.Message,
		Metadata:    init.Metadata,
	})
	if err != nil {
		return InitiateResult{}, err
	}
	if in.Recurring {
		if _, err := s.subs.Create(ctx, models.Subscription{
			TransactionID: tx.ID,
			SupporterID:   tx.SupporterID,
			CreatorID:     tx.CreatorID,
			Gateway:       tx.Gateway,
			TierLevel:     tx.TierLevel,
			Status:        models.SubPending,
		}); err != nil {
			return InitiateResult{}, fmt.Errorf("create subscription: %w", err)
		}
	}
	metrics.PaymentsInitiated.WithLabelValues(tx.Gateway).Inc()
	s.log.Info("payment initiated", "transaction_id", tx.ID, "gateway", tx.Gateway, "gateway_ref", tx.GatewayRef)
	return InitiateResult{Transaction: tx, Initiation: init}, nil
}

type VerifyInput struct {
	Gateway       string
	CorrelationID string
	CallbackData  string
}

type VerifyResult struct {
	Status      gateway.Status     `json:"status"`
	Outcome     Outcome            `json:"outcome,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Transaction models.Transaction `json:"transaction"`
}

// Verify asks the provider for the payment's status and applies it. A
// pending or unreachable provider leaves the transaction pending.
func (s *PaymentService) Verify(ctx context.Context, in VerifyInput) (VerifyResult, error) {
	adapter, err := s.gateways.Get(in.Gateway)
	if err != nil {
		return VerifyResult{}, err
	}
	tx, err := s.ledger.GetByGatewayRef(ctx, adapter.Name(), in.CorrelationID)
	if err != nil {
		return VerifyResult{}, err
	}
	switch tx.Status {
	case models.TxnCompleted:
		return VerifyResult{Status: gateway.StatusSucceeded, Outcome: AlreadySettled, Transaction: tx}, nil
	case models.TxnFailed:
		return VerifyResult{Status: gateway.StatusFailed, Reason: ErrPaymentNotCompleted.Error(), Transaction: tx}, nil
	case models.TxnCancelled:
		return VerifyResult{Status: gateway.StatusCancelled, Reason: ErrPaymentNotCompleted.Error(), Transaction: tx}, nil
	}

	v, err := adapter.Verify(ctx, gateway.VerifyRequest{
		CorrelationID: tx.GatewayRef,
		Amount:        tx.Amount,
		CallbackData:  in.CallbackData,
	})
	if err != nil {
		s.log.Warn("verification failed", "transaction_id", tx.ID, "gateway", tx.Gateway, "err", err)
		return VerifyResult{}, err
	}
	return s.apply(ctx, tx, v)
}

func (s *PaymentService) apply(ctx context.Context, tx models.Transaction, v gateway.Verification) (VerifyResult, error) {
	switch v.Status {
	case gateway.StatusSucceeded:
		res, err := s.settle.Settle(ctx, SettleInput{TransactionID: tx.ID, Verification: v})
		if err != nil && !errors.Is(err, ErrPartialFanout) {
			return VerifyResult{}, err
		}
		// Fan-out failures are already logged per leg; the payment settled.
		return VerifyResult{Status: v.Status, Outcome: res.Outcome, Transaction: res.Transaction}, nil

	case gateway.StatusFailed, gateway.StatusCancelled:
		to := models.TxnFailed
		if v.Status == gateway.StatusCancelled {
			to = models.TxnCancelled
		}
		reason := v.Reason
		if reason == "" {
			reason = ErrPaymentNotCompleted.Error()
		}
		closed, err := s.ledger.MarkFailed(ctx, tx.ID, to, reason, v.RawPayload)
		if err != nil {
			return VerifyResult{}, err
		}
		s.closeSubscription(ctx, tx.ID)
		return VerifyResult{Status: v.Status, Reason: reason, Transaction: closed}, nil

	default:
		return VerifyResult{Status: gateway.StatusPending, Reason: v.Reason, Transaction: tx}, nil
	}
}

// closeSubscription cancels the pending subscription opened with a
// transaction that never completed.
func (s *PaymentService) closeSubscription(ctx context.Context, txID string) {
	sub, err := s.subs.GetByTransaction(ctx, txID)
	if err != nil || sub.Status != models.SubPending {
		return
	}
	if _, err := s.subs.Transition(ctx, sub.ID, models.SubPending, models.SubCancelled, models.SubscriptionPatch{}); err != nil &&
		!errors.Is(err, repo.ErrConflict) {
		s.log.Warn("cancel pending subscription", "transaction_id", txID, "subscription_id", sub.ID, "err", err)
	}
}

func (s *PaymentService) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return s.ledger.GetByID(ctx, id)
}

// TransactionByRef finds the transaction a gateway correlation id belongs to.
func (s *PaymentService) TransactionByRef(ctx context.Context, gatewayName, correlationID string) (models.Transaction, error) {
	adapter, err := s.gateways.Get(gatewayName)
	if err != nil {
		return models.Transaction{}, err
	}
	return s.ledger.GetByGatewayRef(ctx, adapter.Name(), correlationID)
}

// ExpireStale cancels pending transactions created before now-olderThan.
// Rows that moved on concurrently are skipped.
func (s *PaymentService) ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: older_than must be > 0", ErrInvalidInput)
	}
	stale, err := s.ledger.ListStalePending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale: %w", err)
	}
	expired := 0
	for _, tx := range stale {
		_, err := s.ledger.Transition(ctx, tx.ID, models.TxnPending, models.TxnCancelled, models.TransitionPatch{})
		if errors.Is(err, repo.ErrConflict) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire %s: %w", tx.ID, err)
		}
		s.closeSubscription(ctx, tx.ID)
		expired++
	}
	s.log.Info("expiry sweep", "candidates", len(stale), "expired", expired)
	return expired, nil
}
