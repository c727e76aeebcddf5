package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/baharkarakas/supportpay/internal/api/httpx"
	"github.com/baharkarakas/supportpay/internal/api/validate"
	"github.com/baharkarakas/supportpay/internal/auth"
	"github.com/baharkarakas/supportpay/internal/middleware"
	"github.com/baharkarakas/supportpay/internal/models"
	"github.com/baharkarakas/supportpay/internal/services"
)

type Unsubscriber interface {
	Unsubscribe(ctx context.Context, in services.UnsubscribeInput) (services.UnsubscribeResult, error)
}

type SubscriptionLookup interface {
	GetByID(ctx context.Context, id string) (models.Subscription, error)
}

type SubscriptionHandler struct {
	Svc  Unsubscriber
	Subs SubscriptionLookup
	Log  *slog.Logger
}

func NewSubscriptionHandler(svc Unsubscriber, subs SubscriptionLookup, log *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{Svc: svc, Subs: subs, Log: log}
}

type unsubscribeReq struct {
	SubscriptionID string `json:"subscription_id,omitempty"`
	CreatorID      string `json:"creator_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
	SuppressEmails bool   `json:"suppress_emails,omitempty"`
}

type unsubscribeResp struct {
	services.UnsubscribeResult
	FailedLegs []string `json:"failedLegs,omitempty"`
}

// POST /api/v1/subscriptions/unsubscribe
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserID(r.Context())
	var req unsubscribeReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	if req.SubscriptionID == "" && req.CreatorID == "" {
		writeServiceError(w, h.Log, validate.Errs{{Field: "creator_id", Msg: "subscription_id or creator_id is required"}})
		return
	}

	supporterID, creatorID := uid, req.CreatorID
	if req.SubscriptionID != "" {
		sub, err := h.Subs.GetByID(r.Context(), req.SubscriptionID)
		if err != nil {
			writeServiceError(w, h.Log, err)
			return
		}
		role, _ := middleware.Role(r.Context())
		if sub.SupporterID != uid && role != auth.RoleAdmin {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "not found", nil)
			return
		}
		supporterID, creatorID = sub.SupporterID, sub.CreatorID
	}

	res, err := h.Svc.Unsubscribe(r.Context(), services.UnsubscribeInput{
		SupporterID:    supporterID,
		CreatorID:      creatorID,
		Reason:         req.Reason,
		CancelUpstream: true,
		SuppressEmails: req.SuppressEmails,
	})
	// Deactivation stands even when a later step failed.
	var fe *services.FanoutError
	if err != nil && !errors.As(err, &fe) {
		writeServiceError(w, h.Log, err)
		return
	}
	out := unsubscribeResp{UnsubscribeResult: res}
	if fe != nil {
		out.FailedLegs = fe.FailedLegs()
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
