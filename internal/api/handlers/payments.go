package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/api/httpx"
	"github.com/baharkarakas/supportpay/internal/api/validate"
	"github.com/baharkarakas/supportpay/internal/auth"
	"github.com/baharkarakas/supportpay/internal/middleware"
	"github.com/baharkarakas/supportpay/internal/models"
	"github.com/baharkarakas/supportpay/internal/services"
)

type Payments interface {
	Initiate(ctx context.Context, in services.InitiateInput) (services.InitiateResult, error)
	Verify(ctx context.Context, in services.VerifyInput) (services.VerifyResult, error)
	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	TransactionByRef(ctx context.Context, gateway, correlationID string) (models.Transaction, error)
	ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type PaymentHandler struct {
	Svc Payments
	Log *slog.Logger
}

func NewPaymentHandler(svc Payments, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{Svc: svc, Log: log}
}

type initiateReq struct {
	CreatorID string          `json:"creator_id"`
	Amount    decimal.Decimal `json:"amount"`
	TierLevel int             `json:"tier_level"`
	Message   string          `json:"message,omitempty"`
	Recurring bool            `json:"recurring,omitempty"`
}

type initiateResp struct {
	TransactionID string            `json:"transaction_id"`
	Gateway       string            `json:"gateway"`
	Status        string            `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	CorrelationID string            `json:"gateway_correlation_id"`
	RedirectURL   string            `json:"redirect_url,omitempty"`
	ClientToken   string            `json:"client_token,omitempty"`
	FormFields    map[string]string `json:"form_fields,omitempty"`
}

// POST /api/v1/payments/{gateway}/initiate
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserID(r.Context())
	var req initiateReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	if errs := validate.Collect(
		validate.Required("creator_id", req.CreatorID),
		validate.Positive("amount", req.Amount),
		validate.MinInt("tier_level", int64(req.TierLevel), 1),
	); errs != nil {
		writeServiceError(w, h.Log, errs)
		return
	}

	res, err := h.Svc.Initiate(r.Context(), services.InitiateInput{
		Gateway:     chi.URLParam(r, "gateway"),
		SupporterID: uid,
		CreatorID:   req.CreatorID,
		Amount:      req.Amount,
		TierLevel:   req.TierLevel,
		Message:     req.Message,
		Recurring:   req.Recurring,
	})
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, initiateResp{
		TransactionID: res.Transaction.ID,
		Gateway:       res.Transaction.Gateway,
		Status:        string(res.Transaction.Status),
		Amount:        res.Transaction.Amount,
		Currency:      res.Transaction.Currency,
		CorrelationID: res.Initiation.CorrelationID,
		RedirectURL:   res.Initiation.RedirectURL,
		ClientToken:   res.Initiation.ClientToken,
		FormFields:    res.Initiation.FormFields,
	})
}

type verifyReq struct {
	CorrelationID string `json:"correlation_id"`
	CallbackData  string `json:"callback_data,omitempty"`
}

// POST /api/v1/payments/{gateway}/verify
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	if errs := validate.Collect(validate.Required("correlation_id", req.CorrelationID)); errs != nil {
		writeServiceError(w, h.Log, errs)
		return
	}
	gw := chi.URLParam(r, "gateway")
	// ownership is checked before the provider is asked or anything settles
	tx, err := h.Svc.TransactionByRef(r.Context(), gw, req.CorrelationID)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if !canView(r.Context(), tx) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found", nil)
		return
	}
	res, err := h.Svc.Verify(r.Context(), services.VerifyInput{
		Gateway:       gw,
		CorrelationID: req.CorrelationID,
		CallbackData:  req.CallbackData,
	})
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// GET /api/v1/transactions/{id}
func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Svc.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	// other people's transactions look missing
	if !canView(r.Context(), tx) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tx)
}

type expireReq struct {
	OlderThanMinutes int `json:"older_than_minutes"`
	Limit            int `json:"limit,omitempty"`
}

// POST /api/v1/admin/transactions/expire
func (h *PaymentHandler) ExpireStale(w http.ResponseWriter, r *http.Request) {
	var req expireReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	if errs := validate.Collect(validate.MinInt("older_than_minutes", int64(req.OlderThanMinutes), 1)); errs != nil {
		writeServiceError(w, h.Log, errs)
		return
	}
	if req.Limit <= 0 || req.Limit > 1000 {
		req.Limit = 100
	}
	n, err := h.Svc.ExpireStale(r.Context(), time.Duration(req.OlderThanMinutes)*time.Minute, req.Limit)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func canView(ctx context.Context, tx models.Transaction) bool {
	if role, _ := middleware.Role(ctx); role == auth.RoleAdmin {
		return true
	}
	uid, ok := middleware.UserID(ctx)
	return ok && (uid == tx.SupporterID || uid == tx.CreatorID)
}
