package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/auth"
	"github.com/baharkarakas/supportpay/internal/gateway"
	"github.com/baharkarakas/supportpay/internal/logger"
	"github.com/baharkarakas/supportpay/internal/middleware"
	"github.com/baharkarakas/supportpay/internal/models"
	"github.com/baharkarakas/supportpay/internal/queue"
	repo "github.com/baharkarakas/supportpay/internal/repository"
	"github.com/baharkarakas/supportpay/internal/services"
)

type fakePayments struct {
	InitiateFunc func(context.Context, services.InitiateInput) (services.InitiateResult, error)
	VerifyFunc   func(context.Context, services.VerifyInput) (services.VerifyResult, error)
	GetFunc      func(context.Context, string) (models.Transaction, error)
	ByRefFunc    func(context.Context, string, string) (models.Transaction, error)
	ExpireFunc   func(context.Context, time.Duration, int) (int, error)
}

func (f *fakePayments) Initiate(ctx context.Context, in services.InitiateInput) (services.InitiateResult, error) {
	return f.InitiateFunc(ctx, in)
}

func (f *fakePayments) Verify(ctx context.Context, in services.VerifyInput) (services.VerifyResult, error) {
	return f.VerifyFunc(ctx, in)
}

func (f *fakePayments) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return f.GetFunc(ctx, id)
}

// TransactionByRef defaults to a pending row owned by "fan".
func (f *fakePayments) TransactionByRef(ctx context.Context, gw, ref string) (models.Transaction, error) {
	if f.ByRefFunc == nil {
		return models.Transaction{ID: "tx1", Gateway: gw, GatewayRef: ref, SupporterID: "fan", CreatorID: "c1", Status: models.TxnPending}, nil
	}
	return f.ByRefFunc(ctx, gw, ref)
}

func (f *fakePayments) ExpireStale(ctx context.Context, d time.Duration, limit int) (int, error) {
	return f.ExpireFunc(ctx, d, limit)
}

type fakeWebhooks struct {
	StripeFunc func(context.Context, []byte, string) error
	EsewaFunc  func(context.Context, string) error
}

func (f *fakeWebhooks) HandleStripe(ctx context.Context, payload []byte, sig string) error {
	return f.StripeFunc(ctx, payload, sig)
}

func (f *fakeWebhooks) HandleEsewa(ctx context.Context, data string) error {
	return f.EsewaFunc(ctx, data)
}

type fakeUnsubscriber struct {
	UnsubscribeFunc func(context.Context, services.UnsubscribeInput) (services.UnsubscribeResult, error)
}

func (f *fakeUnsubscriber) Unsubscribe(ctx context.Context, in services.UnsubscribeInput) (services.UnsubscribeResult, error) {
	return f.UnsubscribeFunc(ctx, in)
}

type subLookup map[string]models.Subscription

func (s subLookup) GetByID(_ context.Context, id string) (models.Subscription, error) {
	sub, ok := s[id]
	if !ok {
		return models.Subscription{}, repo.ErrNotFound
	}
	return sub, nil
}

type batchFunc func(context.Context) (queue.BatchStats, error)

func (f batchFunc) ProcessBatch(ctx context.Context) (queue.BatchStats, error) { return f(ctx) }

// do routes req through chi so URL params resolve, as the caller identity.
func do(t *testing.T, pattern string, h http.HandlerFunc, req *http.Request, uid, role string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Method(req.Method, pattern, h)
	if uid != "" {
		req = req.WithContext(middleware.WithIdentity(req.Context(), uid, role))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonReq(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestInitiate(t *testing.T) {
	var got services.InitiateInput
	svc := &fakePayments{InitiateFunc: func(_ context.Context, in services.InitiateInput) (services.InitiateResult, error) {
		got = in
		return services.InitiateResult{
			Transaction: models.Transaction{ID: "tx1", Gateway: in.Gateway, Status: models.TxnPending, Amount: in.Amount, Currency: "NPR"},
			Initiation:  gateway.Initiation{CorrelationID: "tx1", RedirectURL: "https://pay", FormFields: map[string]string{"signature": "abc"}},
		}, nil
	}}
	h := NewPaymentHandler(svc, logger.Discard())

	rec := do(t, "/payments/{gateway}/initiate", h.Initiate,
		jsonReq(http.MethodPost, "/payments/esewa/initiate", `{"creator_id":"c1","amount":"100.50","tier_level":2}`), "fan", auth.RoleSupporter)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body)
	}
	if got.Gateway != "esewa" || got.SupporterID != "fan" || !got.Amount.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("input = %+v", got)
	}
	var resp initiateResp
	decode(t, rec, &resp)
	if resp.TransactionID != "tx1" || resp.CorrelationID != "tx1" || resp.FormFields["signature"] != "abc" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestInitiateErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"validation", `{"creator_id":"","amount":0,"tier_level":0}`, nil, http.StatusBadRequest},
		{"malformed", `{"creator_id":`, nil, http.StatusBadRequest},
		{"below minimum", `{"creator_id":"c1","amount":5,"tier_level":1}`, &gateway.Error{Gateway: "esewa", Op: "initiate", Kind: gateway.ErrBelowMinimum}, http.StatusUnprocessableEntity},
		{"unknown gateway", `{"creator_id":"c1","amount":50,"tier_level":1}`, gateway.ErrUnknownGateway, http.StatusNotFound},
		{"unknown creator", `{"creator_id":"c1","amount":50,"tier_level":1}`, repo.ErrNotFound, http.StatusNotFound},
		{"provider down", `{"creator_id":"c1","amount":50,"tier_level":1}`, gateway.Unavailable("khalti", "initiate", 502, nil), http.StatusServiceUnavailable},
		{"self support", `{"creator_id":"c1","amount":50,"tier_level":1}`, services.ErrInvalidInput, http.StatusBadRequest},
		{"storage", `{"creator_id":"c1","amount":50,"tier_level":1}`, errors.New("db gone"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakePayments{InitiateFunc: func(context.Context, services.InitiateInput) (services.InitiateResult, error) {
				if tc.err == nil {
					t.Error("service called for an invalid request")
				}
				return services.InitiateResult{}, tc.err
			}}
			h := NewPaymentHandler(svc, logger.Discard())
			rec := do(t, "/payments/{gateway}/initiate", h.Initiate, jsonReq(http.MethodPost, "/payments/esewa/initiate", tc.body), "fan", auth.RoleSupporter)
			if rec.Code != tc.code {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tc.code, rec.Body)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	svc := &fakePayments{VerifyFunc: func(_ context.Context, in services.VerifyInput) (services.VerifyResult, error) {
		if in.Gateway != "khalti" || in.CorrelationID != "pidx_1" {
			t.Errorf("input = %+v", in)
		}
		return services.VerifyResult{
			Status:      gateway.StatusSucceeded,
			Outcome:     services.NewlySettled,
			Transaction: models.Transaction{ID: "tx1", SupporterID: "fan", CreatorID: "c1", Status: models.TxnCompleted},
		}, nil
	}}
	h := NewPaymentHandler(svc, logger.Discard())
	body := `{"correlation_id":"pidx_1"}`

	rec := do(t, "/payments/{gateway}/verify", h.Verify, jsonReq(http.MethodPost, "/payments/khalti/verify", body), "fan", auth.RoleSupporter)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Status      string `json:"status"`
		Outcome     string `json:"outcome"`
		Transaction struct {
			Status string `json:"status"`
		} `json:"transaction"`
	}
	decode(t, rec, &resp)
	if resp.Status != "succeeded" || resp.Outcome != string(services.NewlySettled) || resp.Transaction.Status != "completed" {
		t.Fatalf("resp = %+v", resp)
	}

	rec = do(t, "/payments/{gateway}/verify", h.Verify, jsonReq(http.MethodPost, "/payments/khalti/verify", `{}`), "fan", auth.RoleSupporter)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing correlation code = %d", rec.Code)
	}
}

func TestVerifyByStrangerDoesNotSettle(t *testing.T) {
	calls := 0
	svc := &fakePayments{
		VerifyFunc: func(context.Context, services.VerifyInput) (services.VerifyResult, error) {
			calls++
			return services.VerifyResult{Status: gateway.StatusSucceeded}, nil
		},
	}
	h := NewPaymentHandler(svc, logger.Discard())
	rec := do(t, "/payments/{gateway}/verify", h.Verify, jsonReq(http.MethodPost, "/payments/khalti/verify", `{"correlation_id":"pidx_1"}`), "stranger", auth.RoleSupporter)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stranger code = %d", rec.Code)
	}
	if calls != 0 {
		t.Fatalf("verify called %d times for a stranger", calls)
	}

	rec = do(t, "/payments/{gateway}/verify", h.Verify, jsonReq(http.MethodPost, "/payments/khalti/verify", `{"correlation_id":"pidx_1"}`), "c1", auth.RoleCreator)
	if rec.Code != http.StatusOK || calls != 1 {
		t.Fatalf("creator code = %d calls = %d", rec.Code, calls)
	}

	svc.ByRefFunc = func(context.Context, string, string) (models.Transaction, error) {
		return models.Transaction{}, repo.ErrNotFound
	}
	rec = do(t, "/payments/{gateway}/verify", h.Verify, jsonReq(http.MethodPost, "/payments/khalti/verify", `{"correlation_id":"nope"}`), "fan", auth.RoleSupporter)
	if rec.Code != http.StatusNotFound || calls != 1 {
		t.Fatalf("unknown ref code = %d calls = %d", rec.Code, calls)
	}
}

func TestVerifyUnavailable(t *testing.T) {
	svc := &fakePayments{VerifyFunc: func(context.Context, services.VerifyInput) (services.VerifyResult, error) {
		return services.VerifyResult{}, gateway.Unavailable("khalti", "lookup", 0, context.DeadlineExceeded)
	}}
	h := NewPaymentHandler(svc, logger.Discard())
	rec := do(t, "/payments/{gateway}/verify", h.Verify, jsonReq(http.MethodPost, "/payments/khalti/verify", `{"correlation_id":"p"}`), "fan", auth.RoleSupporter)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestGetTransactionOwnership(t *testing.T) {
	svc := &fakePayments{GetFunc: func(_ context.Context, id string) (models.Transaction, error) {
		if id != "tx1" {
			return models.Transaction{}, repo.ErrNotFound
		}
		return models.Transaction{ID: "tx1", SupporterID: "fan", CreatorID: "c1"}, nil
	}}
	h := NewPaymentHandler(svc, logger.Discard())

	cases := []struct {
		uid, role, id string
		code          int
	}{
		{"fan", auth.RoleSupporter, "tx1", http.StatusOK},
		{"c1", auth.RoleCreator, "tx1", http.StatusOK},
		{"ops", auth.RoleAdmin, "tx1", http.StatusOK},
		{"other", auth.RoleSupporter, "tx1", http.StatusNotFound},
		{"fan", auth.RoleSupporter, "missing", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := do(t, "/transactions/{id}", h.GetTransaction, httptest.NewRequest(http.MethodGet, "/transactions/"+tc.id, nil), tc.uid, tc.role)
		if rec.Code != tc.code {
			t.Errorf("%s/%s: code = %d, want %d", tc.uid, tc.id, rec.Code, tc.code)
		}
	}
}

func TestExpireStale(t *testing.T) {
	var gotAge time.Duration
	var gotLimit int
	svc := &fakePayments{ExpireFunc: func(_ context.Context, d time.Duration, limit int) (int, error) {
		gotAge, gotLimit = d, limit
		return 3, nil
	}}
	h := NewPaymentHandler(svc, logger.Discard())

	rec := do(t, "/expire", h.ExpireStale, jsonReq(http.MethodPost, "/expire", `{"older_than_minutes":30}`), "ops", auth.RoleAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp map[string]int
	decode(t, rec, &resp)
	if resp["expired"] != 3 || gotAge != 30*time.Minute || gotLimit != 100 {
		t.Fatalf("resp = %v age = %v limit = %d", resp, gotAge, gotLimit)
	}

	rec = do(t, "/expire", h.ExpireStale, jsonReq(http.MethodPost, "/expire", `{"older_than_minutes":0}`), "ops", auth.RoleAdmin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero age code = %d", rec.Code)
	}
}

func TestWebhookStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"ok", nil, http.StatusOK},
		{"forged", gateway.InvalidSignature("stripe", errors.New("bad v1")), http.StatusUnauthorized},
		{"unknown", repo.ErrNotFound, http.StatusNotFound},
		{"internal", errors.New("db gone"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sig string
			var payload []byte
			svc := &fakeWebhooks{StripeFunc: func(_ context.Context, p []byte, s string) error {
				payload, sig = p, s
				return tc.err
			}}
			h := NewWebhookHandler(svc, logger.Discard())
			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			rec := do(t, "/webhooks/stripe", h.Stripe, req, "", "")
			if rec.Code != tc.code {
				t.Fatalf("code = %d, want %d", rec.Code, tc.code)
			}
			if sig != "t=1,v1=abc" || string(payload) != `{"id":"evt_1"}` {
				t.Fatalf("forwarded sig = %q payload = %q", sig, payload)
			}
			if tc.err == nil && strings.TrimSpace(rec.Body.String()) != `{"received":true}` {
				t.Fatalf("body = %s", rec.Body)
			}
		})
	}
}

func TestEsewaWebhookSources(t *testing.T) {
	var got string
	svc := &fakeWebhooks{EsewaFunc: func(_ context.Context, data string) error {
		got = data
		return nil
	}}
	h := NewWebhookHandler(svc, logger.Discard())

	form := httptest.NewRequest(http.MethodPost, "/webhooks/esewa", strings.NewReader(url.Values{"data": {"ZmFrZQ=="}}.Encode()))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	query := httptest.NewRequest(http.MethodPost, "/webhooks/esewa?data=cXVlcnk=", nil)
	body := jsonReq(http.MethodPost, "/webhooks/esewa", `{"data":"anNvbg=="}`)

	for want, req := range map[string]*http.Request{"ZmFrZQ==": form, "cXVlcnk=": query, "anNvbg==": body} {
		got = ""
		if rec := do(t, "/webhooks/esewa", h.Esewa, req, "", ""); rec.Code != http.StatusOK {
			t.Fatalf("%s: code = %d", want, rec.Code)
		}
		if got != want {
			t.Fatalf("data = %q, want %q", got, want)
		}
	}

	empty := httptest.NewRequest(http.MethodPost, "/webhooks/esewa", nil)
	if rec := do(t, "/webhooks/esewa", h.Esewa, empty, "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty code = %d", rec.Code)
	}
}

func TestUnsubscribe(t *testing.T) {
	var got services.UnsubscribeInput
	svc := &fakeUnsubscriber{UnsubscribeFunc: func(_ context.Context, in services.UnsubscribeInput) (services.UnsubscribeResult, error) {
		got = in
		return services.UnsubscribeResult{SupporterDeactivated: true, ChannelsRemoved: 2}, nil
	}}
	subs := subLookup{"sub1": {ID: "sub1", SupporterID: "fan", CreatorID: "c1"}}
	h := NewSubscriptionHandler(svc, subs, logger.Discard())

	rec := do(t, "/unsubscribe", h.Unsubscribe, jsonReq(http.MethodPost, "/unsubscribe", `{"subscription_id":"sub1","reason":"bye"}`), "fan", auth.RoleSupporter)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body)
	}
	if got.SupporterID != "fan" || got.CreatorID != "c1" || !got.CancelUpstream || got.Reason != "bye" {
		t.Fatalf("input = %+v", got)
	}
	var resp map[string]any
	decode(t, rec, &resp)
	if resp["supporterDeactivated"] != true || resp["channelsRemoved"] != float64(2) {
		t.Fatalf("resp = %v", resp)
	}

	rec = do(t, "/unsubscribe", h.Unsubscribe, jsonReq(http.MethodPost, "/unsubscribe", `{"creator_id":"c9","suppress_emails":true}`), "fan", auth.RoleSupporter)
	if rec.Code != http.StatusOK || got.CreatorID != "c9" || !got.SuppressEmails {
		t.Fatalf("by creator: code = %d input = %+v", rec.Code, got)
	}

	cases := []struct {
		body string
		uid  string
		code int
	}{
		{`{}`, "fan", http.StatusBadRequest},
		{`{"subscription_id":"sub1"}`, "intruder", http.StatusNotFound},
		{`{"subscription_id":"nope"}`, "fan", http.StatusNotFound},
	}
	for _, tc := range cases {
		if rec := do(t, "/unsubscribe", h.Unsubscribe, jsonReq(http.MethodPost, "/unsubscribe", tc.body), tc.uid, auth.RoleSupporter); rec.Code != tc.code {
			t.Errorf("%s as %s: code = %d, want %d", tc.body, tc.uid, rec.Code, tc.code)
		}
	}
}

func TestUnsubscribePartialFailureStillOK(t *testing.T) {
	svc := &fakeUnsubscriber{UnsubscribeFunc: func(context.Context, services.UnsubscribeInput) (services.UnsubscribeResult, error) {
		return services.UnsubscribeResult{SupporterDeactivated: true},
			&services.FanoutError{TransactionID: "fan/c1", Legs: []services.LegError{{Leg: services.LegChannels, Err: errors.New("down")}}}
	}}
	h := NewSubscriptionHandler(svc, subLookup{}, logger.Discard())
	rec := do(t, "/unsubscribe", h.Unsubscribe, jsonReq(http.MethodPost, "/unsubscribe", `{"creator_id":"c1"}`), "fan", auth.RoleSupporter)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp unsubscribeResp
	decode(t, rec, &resp)
	if !resp.SupporterDeactivated || len(resp.FailedLegs) != 1 || resp.FailedLegs[0] != services.LegChannels {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestQueueProcess(t *testing.T) {
	h := NewQueueHandler(batchFunc(func(context.Context) (queue.BatchStats, error) {
		return queue.BatchStats{Processed: 3, Sent: 2, Failed: 1, DurationMs: 12}, nil
	}), logger.Discard())
	rec := do(t, "/queue/process", h.Process, httptest.NewRequest(http.MethodPost, "/queue/process", nil), "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp map[string]int
	decode(t, rec, &resp)
	if resp["processed"] != 3 || resp["sent"] != 2 || resp["failed"] != 1 || resp["durationMs"] != 12 {
		t.Fatalf("resp = %v", resp)
	}
}
