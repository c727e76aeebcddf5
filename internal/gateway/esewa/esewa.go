// Package esewa implements the redirect/signature gateway. Payment forms
// and status callbacks are signed with HMAC-SHA256 over a canonical
// "key=value,..." message built from the fields named in
// signed_field_names.
package esewa

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/gateway"
)

const (
	Name = "esewa"

	formPath   = "/api/epay/main/v2/form"
	statusPath = "/api/epay/transaction/status/"

	initiateFields = "total_amount,transaction_uuid,product_code"
)

var minAmount = decimal.NewFromInt(10)

type Config struct {
	BaseURL     string
	StatusURL   string
	ProductCode string
	SecretKey   string
	SuccessURL  string
	FailureURL  string
}

type Adapter struct {
	cfg   Config
	http  *http.Client
	newID func() string
}

func New(cfg Config, client *http.Client) (*Adapter, error) {
	if cfg.SecretKey == "" || cfg.ProductCode == "" {
		return nil, errors.New("esewa: secret key and product code are required")
	}
	gen, err := nanoid.CustomASCII("0123456789abcdefghijklmnopqrstuvwxyz", 20)
	if err != nil {
		return nil, fmt.Errorf("esewa: id generator: %w", err)
	}
	return &Adapter{cfg: cfg, http: client, newID: gen}, nil
}

func (a *Adapter) Name() string { return Name }

// Sign returns the base64 HMAC-SHA256 of the canonical message for names.
func Sign(secret string, fields map[string]string, names []string) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n+"="+fields[n])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, ",")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func formatAmount(d decimal.Decimal) string { return d.StringFixed(2) }

func (a *Adapter) Initiate(_ context.Context, req gateway.InitiateRequest) (gateway.Initiation, error) {
	if err := gateway.CheckAmount(Name, req.Amount, minAmount, 2); err != nil {
		return gateway.Initiation{}, err
	}
	if req.Recurring {
		return gateway.Initiation{}, &gateway.Error{Gateway: Name, Op: "initiate", Kind: gateway.ErrUnsupported,
			Err: errors.New("recurring billing")}
	}

	uuid := a.newID()
	amount := formatAmount(req.Amount)
	fields := map[string]string{
		"amount":                  amount,
		"tax_amount":              "0",
		"total_amount":            amount,
		"transaction_uuid":        uuid,
		"product_code":            a.cfg.ProductCode,
		"product_service_charge":  "0",
		"product_delivery_charge": "0",
		"success_url":             a.cfg.SuccessURL,
		"failure_url":             a.cfg.FailureURL,
		"signed_field_names":      initiateFields,
	}
	fields["signature"] = Sign(a.cfg.SecretKey, fields, strings.Split(initiateFields, ","))

	return gateway.Initiation{
		CorrelationID: uuid,
		Currency:      "NPR",
		RedirectURL:   strings.TrimRight(a.cfg.BaseURL, "/") + formPath,
		FormFields:    fields,
	}, nil
}

// Callback is the decoded, signed status payload eSewa sends back.
type Callback struct {
	TransactionCode  string `json:"transaction_code"`
	Status           string `json:"status"`
	TotalAmount      string `json:"total_amount"`
	TransactionUUID  string `json:"transaction_uuid"`
	ProductCode      string `json:"product_code"`
	SignedFieldNames string `json:"signed_field_names"`
	Signature        string `json:"signature"`
}

func (c Callback) fields() map[string]string {
	return map[string]string{
		"transaction_code":   c.TransactionCode,
		"status":             c.Status,
		"total_amount":       c.TotalAmount,
		"transaction_uuid":   c.TransactionUUID,
		"product_code":       c.ProductCode,
		"signed_field_names": c.SignedFieldNames,
	}
}

// ParseCallback decodes the base64 `data` value and checks its signature.
// No caller may act on a callback that fails here.
func (a *Adapter) ParseCallback(data string) (Callback, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(data); err != nil {
			return Callback{}, nil, gateway.InvalidSignature(Name, fmt.Errorf("decode callback: %w", err))
		}
	}
	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return Callback{}, nil, gateway.InvalidSignature(Name, fmt.Errorf("parse callback: %w", err))
	}
	if cb.SignedFieldNames == "" || cb.Signature == "" {
		return Callback{}, nil, gateway.InvalidSignature(Name, errors.New("callback is unsigned"))
	}
	want := Sign(a.cfg.SecretKey, cb.fields(), strings.Split(cb.SignedFieldNames, ","))
	if !hmac.Equal([]byte(want), []byte(cb.Signature)) {
		return Callback{}, nil, gateway.InvalidSignature(Name, errors.New("signature mismatch"))
	}
	if cb.ProductCode != a.cfg.ProductCode {
		return Callback{}, nil, gateway.InvalidSignature(Name, errors.New("product code mismatch"))
	}
	return cb, raw, nil
}

// statusResponse is the status-check API body.
type statusResponse struct {
	ProductCode     string      `json:"product_code"`
	TransactionUUID string      `json:"transaction_uuid"`
	TotalAmount     json.Number `json:"total_amount"`
	Status          string      `json:"status"`
	RefID           *string     `json:"ref_id"`
}

// MapStatus converts an eSewa status string into the common status.
func MapStatus(s string) (gateway.Status, error) {
	switch s {
	case "COMPLETE":
		return gateway.StatusSucceeded, nil
	case "PENDING", "AMBIGUOUS":
		return gateway.StatusPending, nil
	case "CANCELED":
		return gateway.StatusCancelled, nil
	case "NOT_FOUND", "FULL_REFUND", "PARTIAL_REFUND":
		return gateway.StatusFailed, nil
	default:
		return "", fmt.Errorf("esewa: unknown status %q", s)
	}
}

func (a *Adapter) Verify(ctx context.Context, req gateway.VerifyRequest) (gateway.Verification, error) {
	if req.CallbackData != "" {
		cb, _, err := a.ParseCallback(req.CallbackData)
		if err != nil {
			return gateway.Verification{}, err
		}
		if cb.TransactionUUID != req.CorrelationID {
			return gateway.Verification{}, gateway.InvalidSignature(Name, errors.New("callback is for another transaction"))
		}
	}

	q := url.Values{}
	q.Set("product_code", a.cfg.ProductCode)
	q.Set("total_amount", formatAmount(req.Amount))
	q.Set("transaction_uuid", req.CorrelationID)
	endpoint := strings.TrimRight(a.cfg.StatusURL, "/") + statusPath + "?" + q.Encode()

	var sr statusResponse
	raw, err := gateway.DoJSON(ctx, a.http, Name, "status", http.MethodGet, endpoint, nil, nil, &sr)
	if err != nil {
		return gateway.Verification{}, err
	}
	st, err := MapStatus(sr.Status)
	if err != nil {
		return gateway.Verification{}, gateway.Unavailable(Name, "status", http.StatusOK, err)
	}
	v := gateway.Verification{Status: st, RawPayload: raw}
	if sr.RefID != nil {
		v.ExternalRef = *sr.RefID
	}
	if st != gateway.StatusSucceeded {
		v.Reason = "esewa reported " + sr.Status
	}
	return v, nil
}

// VerificationFromCallback maps an already signature-checked callback.
func VerificationFromCallback(cb Callback, raw []byte) (gateway.Verification, error) {
	st, err := MapStatus(cb.Status)
	if err != nil {
		return gateway.Verification{}, err
	}
	v := gateway.Verification{Status: st, ExternalRef: cb.TransactionCode, RawPayload: raw}
	if st != gateway.StatusSucceeded {
		v.Reason = "esewa reported " + cb.Status
	}
	return v, nil
}

func (a *Adapter) CancelSubscription(context.Context, string) error {
	return &gateway.Error{Gateway: Name, Op: "cancel-subscription", Kind: gateway.ErrUnsupported}
}
