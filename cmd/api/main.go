package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"

	"github.com/baharkarakas/supportpay/internal/api"
	"github.com/baharkarakas/supportpay/internal/api/handlers"
	"github.com/baharkarakas/supportpay/internal/auth"
	"github.com/baharkarakas/supportpay/internal/channels"
	"github.com/baharkarakas/supportpay/internal/config"
	"github.com/baharkarakas/supportpay/internal/db"
	"github.com/baharkarakas/supportpay/internal/gateway"
	"github.com/baharkarakas/supportpay/internal/gateway/esewa"
	"github.com/baharkarakas/supportpay/internal/gateway/khalti"
	stripegw "github.com/baharkarakas/supportpay/internal/gateway/stripe"
	"github.com/baharkarakas/supportpay/internal/logger"
	"github.com/baharkarakas/supportpay/internal/mail"
	"github.com/baharkarakas/supportpay/internal/metrics"
	"github.com/baharkarakas/supportpay/internal/queue"
	repo "github.com/baharkarakas/supportpay/internal/repository"
	"github.com/baharkarakas/supportpay/internal/repository/memory"
	"github.com/baharkarakas/supportpay/internal/repository/postgres"
	"github.com/baharkarakas/supportpay/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)
	slog.SetDefault(log)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("storage", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// ---------- gateways ----------
	var (
		adapters []gateway.Adapter
		ea       *esewa.Adapter
		sa       *stripegw.Adapter
	)
	public := strings.TrimRight(cfg.PublicURL, "/")
	if ea, err = esewa.New(esewa.Config{
		BaseURL:     cfg.Esewa.BaseURL,
		StatusURL:   cfg.Esewa.StatusURL,
		ProductCode: cfg.Esewa.ProductCode,
		SecretKey:   cfg.Esewa.SecretKey,
		SuccessURL:  public + "/payment/esewa/success",
		FailureURL:  public + "/payment/esewa/failure",
	}, gateway.NewHTTPClient(cfg.HTTPTimeout)); err != nil {
		log.Warn("esewa disabled", "err", err)
	} else {
		adapters = append(adapters, ea)
	}
	if ka, err := khalti.New(khalti.Config{
		BaseURL:    cfg.Khalti.BaseURL,
		SecretKey:  cfg.Khalti.SecretKey,
		ReturnURL:  public + "/payment/khalti/return",
		WebsiteURL: public,
	}, gateway.NewHTTPClient(cfg.HTTPTimeout)); err != nil {
		log.Warn("khalti disabled", "err", err)
	} else {
		adapters = append(adapters, ka)
	}
	if cfg.Stripe.SecretKey != "" {
		sc := stripeclient.New(cfg.Stripe.SecretKey, stripego.NewBackends(gateway.NewHTTPClient(cfg.HTTPTimeout)))
		sa = stripegw.FromClient(stripegw.Config{
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Currency:      cfg.Stripe.Currency,
			SuccessURL:    public + "/payment/stripe/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:     public + "/payment/stripe/cancel",
		}, sc)
		adapters = append(adapters, sa)
	} else {
		log.Warn("stripe disabled", "reason", "STRIPE_SECRET_KEY not set")
	}
	registry := gateway.NewRegistry(adapters...)
	log.Info("gateways", "enabled", registry.Names())

	// ---------- channel sync ----------
	var pub channels.Publisher = channels.LogPublisher{Log: log}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := channels.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ChannelTopic)
		defer kp.Close()
		pub = kp
	}
	syncer := channels.NewSyncer(repos.Channels, pub)

	// ---------- email queue ----------
	mailer := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	q := queue.New(repos.EmailJobs, queue.MailSender{Mailer: mailer}, log, queue.Options{
		BatchSize:   cfg.Queue.BatchSize,
		Concurrency: cfg.Queue.Concurrency,
	})

	// ---------- services ----------
	ledger := services.NewLedger(repos.Transactions, repos.AuditLogs, log)
	settle := services.NewSettlement(ledger, repos, syncer, q, log)
	reversal := services.NewReversal(repos, registry, syncer, q, log)
	payments := services.NewPaymentService(ledger, settle, repos, registry, log)

	deps := services.WebhookDeps{
		Payments: payments,
		Ledger:   ledger,
		Settle:   settle,
		Reversal: reversal,
		Repos:    repos,
		Notifier: q,
		Log:      log,
	}
	// unconfigured gateways stay nil interfaces
	if sa != nil {
		deps.Stripe = sa
	}
	if ea != nil {
		deps.Esewa = ea
	}
	hooks := services.NewWebhookService(deps)

	r := api.NewRouter(cfg, api.RouterDeps{
		Tokens:        auth.NewTokenManager(cfg.JWT.AccessSecret, cfg.JWT.Issuer, cfg.JWT.AccessTTL),
		Payments:      handlers.NewPaymentHandler(payments, log),
		Subscriptions: handlers.NewSubscriptionHandler(reversal, repos.Subscriptions, log),
		Webhooks:      handlers.NewWebhookHandler(hooks, log),
		Queue:         handlers.NewQueueHandler(q, log),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

// openStore picks the repository backend. The in-memory store is for
// local runs without a database.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repo.Repositories, func(), error) {
	if cfg.Storage == "memory" {
		log.Warn("using in-memory storage; data is lost on exit")
		return memory.New().Repositories(), func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return repo.Repositories{}, nil, err
	}
	if cfg.Migrate {
		if err := db.RunMigrations(pool); err != nil {
			pool.Close()
			return repo.Repositories{}, nil, err
		}
		log.Info("migrations applied")
	}
	return postgres.NewRepositories(pool), pool.Close, nil
}
