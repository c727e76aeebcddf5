package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/baharkarakas/supportpay/internal/api/httpx"
	"github.com/baharkarakas/supportpay/internal/api/validate"
	"github.com/baharkarakas/supportpay/internal/gateway"
	repo "github.com/baharkarakas/supportpay/internal/repository"
	"github.com/baharkarakas/supportpay/internal/services"
)

// writeServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var verr validate.Errs
	switch {
	case errors.As(err, &verr):
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", "invalid request", verr)
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, gateway.ErrUnknownGateway):
		httpx.WriteError(w, http.StatusNotFound, "unknown_gateway", err.Error(), nil)
	case errors.Is(err, gateway.ErrBelowMinimum):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "amount_rejected", err.Error(), nil)
	case errors.Is(err, gateway.ErrUnsupported):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "unsupported", err.Error(), nil)
	case errors.Is(err, gateway.ErrInvalidSignature):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed", nil)
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		log.Warn("gateway unavailable", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "gateway_unavailable", "payment provider unavailable, try again", nil)
	case errors.Is(err, repo.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, services.ErrInvalidStateTransition), errors.Is(err, repo.ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "conflict", err.Error(), nil)
	default:
		log.Error("request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func badBody(w http.ResponseWriter, err error) {
	httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
}
