package esewa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/gateway"
)

const testSecret = "8gBm/:&EnhH.1/q"

func newTestAdapter(t *testing.T, statusURL string) *Adapter {
	t.Helper()
	a, err := New(Config{
		BaseURL:     "https://rc-epay.esewa.com.np",
		StatusURL:   statusURL,
		ProductCode: "EPAYTEST",
		SecretKey:   testSecret,
		SuccessURL:  "https://example.com/ok",
		FailureURL:  "https://example.com/fail",
	}, &http.Client{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func signedCallback(t *testing.T, cb Callback) string {
	t.Helper()
	cb.SignedFieldNames = "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names"
	cb.Signature = Sign(testSecret, cb.fields(), strings.Split(cb.SignedFieldNames, ","))
	b, err := json.Marshal(cb)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func TestSignKnownVector(t *testing.T) {
	// Published eSewa v2 sample.
	fields := map[string]string{
		"total_amount":     "110",
		"transaction_uuid": "241028",
		"product_code":     "EPAYTEST",
	}
	got := Sign(testSecret, fields, []string{"total_amount", "transaction_uuid", "product_code"})
	if got != "i94zsd3oXF6ZsSr/kGqT4sSzYQzjj1W/waxjWyRwaME=" {
		t.Fatalf("signature = %s", got)
	}
}

func TestInitiateBuildsSignedForm(t *testing.T) {
	a := newTestAdapter(t, "")
	init, err := a.Initiate(context.Background(), gateway.InitiateRequest{Amount: decimal.RequireFromString("250.5")})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if init.CorrelationID == "" || init.CorrelationID != init.FormFields["transaction_uuid"] {
		t.Fatalf("correlation id not carried in form: %+v", init)
	}
	if init.FormFields["total_amount"] != "250.50" {
		t.Fatalf("total_amount = %q", init.FormFields["total_amount"])
	}
	if !strings.HasSuffix(init.RedirectURL, "/api/epay/main/v2/form") {
		t.Fatalf("redirect = %q", init.RedirectURL)
	}
	want := Sign(testSecret, init.FormFields, strings.Split(initiateFields, ","))
	if init.FormFields["signature"] != want {
		t.Fatal("form signature does not match signed fields")
	}
}

func TestInitiateRejectsBadAmounts(t *testing.T) {
	a := newTestAdapter(t, "")
	for _, amt := range []string{"0", "9.99", "10.001"} {
		_, err := a.Initiate(context.Background(), gateway.InitiateRequest{Amount: decimal.RequireFromString(amt)})
		if !errors.Is(err, gateway.ErrBelowMinimum) {
			t.Errorf("amount %s: err = %v", amt, err)
		}
	}
}

func TestParseCallback(t *testing.T) {
	a := newTestAdapter(t, "")
	data := signedCallback(t, Callback{
		TransactionCode: "000AWEO", Status: "COMPLETE", TotalAmount: "100.00",
		TransactionUUID: "abc", ProductCode: "EPAYTEST",
	})

	cb, raw, err := a.ParseCallback(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cb.TransactionUUID != "abc" || len(raw) == 0 {
		t.Fatalf("unexpected callback %+v", cb)
	}
	v, err := VerificationFromCallback(cb, raw)
	if err != nil || v.Status != gateway.StatusSucceeded || v.ExternalRef != "000AWEO" {
		t.Fatalf("verification = %+v, %v", v, err)
	}

	// Tamper with the status after signing.
	b, _ := base64.StdEncoding.DecodeString(data)
	tampered := strings.Replace(string(b), "COMPLETE", "PENDING", 1)
	_, _, err = a.ParseCallback(base64.StdEncoding.EncodeToString([]byte(tampered)))
	if !errors.Is(err, gateway.ErrInvalidSignature) {
		t.Fatalf("tampered err = %v", err)
	}

	if _, _, err := a.ParseCallback("not base64!!"); !errors.Is(err, gateway.ErrInvalidSignature) {
		t.Fatalf("garbage err = %v", err)
	}
}

func TestVerifyUsesStatusAPI(t *testing.T) {
	tests := []struct {
		status string
		want   gateway.Status
	}{
		{"COMPLETE", gateway.StatusSucceeded},
		{"PENDING", gateway.StatusPending},
		{"CANCELED", gateway.StatusCancelled},
		{"NOT_FOUND", gateway.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != statusPath {
					t.Errorf("path = %s", r.URL.Path)
				}
				q := r.URL.Query()
				if q.Get("transaction_uuid") != "abc" || q.Get("total_amount") != "100.00" || q.Get("product_code") != "EPAYTEST" {
					t.Errorf("query = %s", r.URL.RawQuery)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"product_code":"EPAYTEST","transaction_uuid":"abc","total_amount":100.0,"status":"` + tt.status + `","ref_id":"REF1"}`))
			}))
			defer srv.Close()

			a := newTestAdapter(t, srv.URL)
			v, err := a.Verify(context.Background(), gateway.VerifyRequest{CorrelationID: "abc", Amount: decimal.NewFromInt(100)})
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if v.Status != tt.want {
				t.Fatalf("status = %s, want %s", v.Status, tt.want)
			}
		})
	}
}

func TestVerifyRejectsCallbackForOtherTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("status API must not be called")
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	data := signedCallback(t, Callback{Status: "COMPLETE", TotalAmount: "100.00", TransactionUUID: "other", ProductCode: "EPAYTEST"})
	_, err := a.Verify(context.Background(), gateway.VerifyRequest{CorrelationID: "abc", Amount: decimal.NewFromInt(100), CallbackData: data})
	if !errors.Is(err, gateway.ErrInvalidSignature) {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Verify(context.Background(), gateway.VerifyRequest{CorrelationID: "abc", Amount: decimal.NewFromInt(100)})
	if !errors.Is(err, gateway.ErrGatewayUnavailable) {
		t.Fatalf("err = %v", err)
	}
}
