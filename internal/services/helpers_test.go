package services

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/gateway"
	"github.com/baharkarakas/supportpay/internal/logger"
	"github.com/baharkarakas/supportpay/internal/models"
	"github.com/baharkarakas/supportpay/internal/repository/memory"
)

type fakeAdapter struct {
	name         string
	InitiateFunc func(context.Context, gateway.InitiateRequest) (gateway.Initiation, error)
	VerifyFunc   func(context.Context, gateway.VerifyRequest) (gateway.Verification, error)
	CancelFunc   func(context.Context, string) error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (gateway.Initiation, error) {
	if f.InitiateFunc != nil {
		return f.InitiateFunc(ctx, req)
	}
	return gateway.Initiation{CorrelationID: "ref-" + req.TransactionID, Currency: "NPR", RedirectURL: "https://pay.example/" + req.TransactionID}, nil
}

func (f *fakeAdapter) Verify(ctx context.Context, req gateway.VerifyRequest) (gateway.Verification, error) {
	if f.VerifyFunc != nil {
		return f.VerifyFunc(ctx, req)
	}
	return gateway.Verification{Status: gateway.StatusSucceeded, ExternalRef: "ext-" + req.CorrelationID, RawPayload: []byte(`{"ok":true}`)}, nil
}

func (f *fakeAdapter) CancelSubscription(ctx context.Context, ref string) error {
	if f.CancelFunc != nil {
		return f.CancelFunc(ctx, ref)
	}
	return &gateway.Error{Gateway: f.name, Op: "cancel-subscription", Kind: gateway.ErrUnsupported}
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []models.EmailJob
	err  error
}

func (n *recordingNotifier) EnqueueOrSend(_ context.Context, job models.EmailJob) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.jobs = append(n.jobs, job)
	return nil
}

func (n *recordingNotifier) types() []models.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotificationType, 0, len(n.jobs))
	for _, j := range n.jobs {
		out = append(out, j.Type)
	}
	return out
}

type recordingChannels struct {
	mu      sync.Mutex
	added   int
	removed int
	err     error
}

func (c *recordingChannels) Add(_ context.Context, _, _ string, _ int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.added++
	return 1, nil
}

func (c *recordingChannels) Remove(_ context.Context, _, _ string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.removed++
	return 2, nil
}

type env struct {
	store    *memory.Store
	adapter  *fakeAdapter
	notifier *recordingNotifier
	channels *recordingChannels
	registry *gateway.Registry
	ledger   *Ledger
	settle   *Settlement
	reversal *Reversal
	payments *PaymentService
}

func newEnv(t *testing.T, extra ...gateway.Adapter) *env {
	t.Helper()
	st := memory.New()
	st.AddUser(models.User{ID: "fan", Email: "fan@example.com", DisplayName: "Bikash"})
	st.AddUser(models.User{ID: "creator", Email: "creator@example.com", DisplayName: "Asha"})

	e := &env{
		store:    st,
		adapter:  &fakeAdapter{name: "fake"},
		notifier: &recordingNotifier{},
		channels: &recordingChannels{},
	}
	e.registry = gateway.NewRegistry(append([]gateway.Adapter{e.adapter}, extra...)...)

	repos := st.Repositories()
	log := logger.Discard()
	e.ledger = NewLedger(repos.Transactions, repos.AuditLogs, log)
	e.settle = NewSettlement(e.ledger, repos, e.channels, e.notifier, log)
	e.reversal = NewReversal(repos, e.registry, e.channels, e.notifier, log)
	e.payments = NewPaymentService(e.ledger, e.settle, repos, e.registry, log)
	return e
}

// pending creates a pending transaction straight through the ledger.
func (e *env) pending(t *testing.T, gw, ref, amount string) models.Transaction {
	t.Helper()
	tx, err := e.ledger.Create(context.Background(), models.Transaction{
		ID:          "tx-" + ref,
		SupporterID: "fan",
		CreatorID:   "creator",
		Amount:      decimal.RequireFromString(amount),
		Currency:    "NPR",
		Gateway:     gw,
		GatewayRef:  ref,
		TierLevel:   2,
	})
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

var succeeded = gateway.Verification{Status: gateway.StatusSucceeded, RawPayload: []byte(`{"status":"COMPLETE"}`)}
