// Package khalti implements the token-lookup gateway: initiation returns a
// pidx and payment URL, verification is a synchronous lookup by pidx.
package khalti

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/gateway"
)

const Name = "khalti"

// Amounts travel in paisa.
var (
	paisaPerRupee = decimal.NewFromInt(100)
	minPaisa      = decimal.NewFromInt(1000)
)

type Config struct {
	BaseURL    string
	SecretKey  string
	ReturnURL  string
	WebsiteURL string
}

type Adapter struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config, client *http.Client) (*Adapter, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("khalti: secret key is required")
	}
	return &Adapter{cfg: cfg, http: client}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Key "+a.cfg.SecretKey)
	return h
}

func (a *Adapter) url(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}

// ToPaisa converts rupees into integral paisa.
func ToPaisa(amount decimal.Decimal) (int64, error) {
	p := amount.Mul(paisaPerRupee)
	if !p.IsInteger() {
		return 0, &gateway.Error{Gateway: Name, Op: "initiate", Kind: gateway.ErrBelowMinimum,
			Err: fmt.Errorf("amount %s is not a whole number of paisa", amount)}
	}
	if p.LessThan(minPaisa) {
		return 0, &gateway.Error{Gateway: Name, Op: "initiate", Kind: gateway.ErrBelowMinimum,
			Err: fmt.Errorf("amount %s paisa is below minimum %s", p, minPaisa)}
	}
	return p.IntPart(), nil
}

type customerInfo struct {
	Name string `json:"name,omitempty"`
}

type initiateBody struct {
	ReturnURL         string        `json:"return_url"`
	WebsiteURL        string        `json:"website_url"`
	Amount            int64         `json:"amount"`
	PurchaseOrderID   string        `json:"purchase_order_id"`
	PurchaseOrderName string        `json:"purchase_order_name"`
	CustomerInfo      *customerInfo `json:"customer_info,omitempty"`
}

type initiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
}

func (a *Adapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (gateway.Initiation, error) {
	if !req.Amount.IsPositive() {
		return gateway.Initiation{}, &gateway.Error{Gateway: Name, Op: "initiate", Kind: gateway.ErrBelowMinimum,
			Err: errors.New("amount must be > 0")}
	}
	if req.Recurring {
		return gateway.Initiation{}, &gateway.Error{Gateway: Name, Op: "initiate", Kind: gateway.ErrUnsupported,
			Err: errors.New("recurring billing")}
	}
	paisa, err := ToPaisa(req.Amount)
	if err != nil {
		return gateway.Initiation{}, err
	}

	body := initiateBody{
		ReturnURL:         a.cfg.ReturnURL,
		WebsiteURL:        a.cfg.WebsiteURL,
		Amount:            paisa,
		PurchaseOrderID:   req.TransactionID,
		PurchaseOrderName: fmt.Sprintf("Support %s (tier %d)", req.CreatorName, req.TierLevel),
	}
	var out initiateResponse
	raw, err := gateway.DoJSON(ctx, a.http, Name, "initiate", http.MethodPost, a.url("/epayment/initiate/"), a.header(), body, &out)
	if err != nil {
		return gateway.Initiation{}, err
	}
	if out.Pidx == "" {
		return gateway.Initiation{}, gateway.Unavailable(Name, "initiate", http.StatusOK, errors.New("response has no pidx"))
	}
	return gateway.Initiation{
		CorrelationID: out.Pidx,
		Currency:      "NPR",
		RedirectURL:   out.PaymentURL,
		Metadata:      raw,
	}, nil
}

type lookupResponse struct {
	Pidx          string  `json:"pidx"`
	TotalAmount   int64   `json:"total_amount"`
	Status        string  `json:"status"`
	TransactionID *string `json:"transaction_id"`
	Refunded      bool    `json:"refunded"`
}

// MapStatus converts a lookup status into the common status. Unknown
// values stay pending so the next lookup can settle them.
func MapStatus(s string) gateway.Status {
	switch s {
	case "Completed":
		return gateway.StatusSucceeded
	case "Pending", "Initiated":
		return gateway.StatusPending
	case "User canceled":
		return gateway.StatusCancelled
	case "Expired", "Refunded", "Partially Refunded":
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

func (a *Adapter) Verify(ctx context.Context, req gateway.VerifyRequest) (gateway.Verification, error) {
	if req.CorrelationID == "" {
		return gateway.Verification{}, errors.New("khalti: pidx is required")
	}
	var out lookupResponse
	raw, err := gateway.DoJSON(ctx, a.http, Name, "lookup", http.MethodPost, a.url("/epayment/lookup/"), a.header(),
		map[string]string{"pidx": req.CorrelationID}, &out)
	if err != nil {
		return gateway.Verification{}, err
	}

	st := MapStatus(out.Status)
	if st == gateway.StatusSucceeded && !req.Amount.IsZero() {
		// A completed lookup for a different amount is not this payment.
		if want, err := ToPaisa(req.Amount); err == nil && want != out.TotalAmount {
			return gateway.Verification{
				Status:     gateway.StatusFailed,
				Reason:     fmt.Sprintf("amount mismatch: paid %d paisa, expected %d", out.TotalAmount, want),
				RawPayload: raw,
			}, nil
		}
	}
	v := gateway.Verification{Status: st, RawPayload: raw}
	if out.TransactionID != nil {
		v.ExternalRef = *out.TransactionID
	}
	if st != gateway.StatusSucceeded {
		v.Reason = "khalti reported " + out.Status
	}
	return v, nil
}

func (a *Adapter) CancelSubscription(context.Context, string) error {
	return &gateway.Error{Gateway: Name, Op: "cancel-subscription", Kind: gateway.ErrUnsupported}
}
