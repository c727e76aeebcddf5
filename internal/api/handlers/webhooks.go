package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/baharkarakas/supportpay/internal/api/httpx"
	"github.com/baharkarakas/supportpay/internal/gateway"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

type Webhooks interface {
	HandleStripe(ctx context.Context, payload []byte, signature string) error
	HandleEsewa(ctx context.Context, data string) error
}

// WebhookHandler answers providers. Anything but 2xx makes them retry, so
// only failures worth retrying get a 500.
type WebhookHandler struct {
	Svc Webhooks
	Log *slog.Logger
}

func NewWebhookHandler(svc Webhooks, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{Svc: svc, Log: log}
}

// POST /webhooks/stripe
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes))
	if err != nil {
		badBody(w, err)
		return
	}
	h.respond(w, "stripe", h.Svc.HandleStripe(r.Context(), payload, r.Header.Get("Stripe-Signature")))
}

// POST /webhooks/esewa
func (h *WebhookHandler) Esewa(w http.ResponseWriter, r *http.Request) {
	data, err := esewaData(w, r)
	if err != nil {
		badBody(w, err)
		return
	}
	if data == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "data is required", nil)
		return
	}
	h.respond(w, "esewa", h.Svc.HandleEsewa(r.Context(), data))
}

// esewaData accepts the callback as a JSON body, a form post or a query
// parameter.
func esewaData(w http.ResponseWriter, r *http.Request) (string, error) {
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		var body struct {
			Data string `json:"data"`
		}
		if err := httpx.DecodeJSON(w, r, &body); err != nil {
			return "", err
		}
		return body.Data, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.Form.Get("data"), nil
}

func (h *WebhookHandler) respond(w http.ResponseWriter, gw string, err error) {
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, gateway.ErrInvalidSignature):
		h.Log.Warn("webhook rejected", "gateway", gw, "err", err)
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed", nil)
	case errors.Is(err, repo.ErrNotFound):
		h.Log.Warn("webhook for unknown reference", "gateway", gw, "err", err)
		httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown reference", nil)
	default:
		h.Log.Error("webhook failed", "gateway", gw, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
