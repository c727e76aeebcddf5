package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/supportpay/internal/api/handlers"
	"github.com/baharkarakas/supportpay/internal/auth"
	"github.com/baharkarakas/supportpay/internal/config"
	"github.com/baharkarakas/supportpay/internal/metrics"
	"github.com/baharkarakas/supportpay/internal/middleware"
)

type RouterDeps struct {
	Tokens        *auth.TokenManager
	Payments      *handlers.PaymentHandler
	Subscriptions *handlers.SubscriptionHandler
	Webhooks      *handlers.WebhookHandler
	Queue         *handlers.QueueHandler
}

func NewRouter(cfg config.Config, d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	// ---------- provider webhooks (signed, no bearer auth) ----------
	r.Post("/webhooks/stripe", d.Webhooks.Stripe)
	r.Post("/webhooks/esewa", d.Webhooks.Esewa)

	am := middleware.NewAuthMiddleware(d.Tokens, cfg.Env)

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- queue trigger (shared secret) ----------
		r.With(middleware.SharedSecret("X-Queue-Secret", cfg.Queue.TriggerSecret)).
			Post("/queue/process", d.Queue.Process)

		r.Group(func(r chi.Router) {
			r.Use(am.Auth)

			// ---------- payments ----------
			r.Post("/payments/{gateway}/initiate", d.Payments.Initiate)
			r.Post("/payments/{gateway}/verify", d.Payments.Verify)
			r.Get("/transactions/{id}", d.Payments.GetTransaction)

			// ---------- subscriptions ----------
			r.Post("/subscriptions/unsubscribe", d.Subscriptions.Unsubscribe)

			// ---------- admin ----------
			r.With(middleware.RequireRole(auth.RoleAdmin)).
				Post("/admin/transactions/expire", d.Payments.ExpireStale)
		})
	})

	return r
}
