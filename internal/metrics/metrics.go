package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// Ledger
	PaymentsInitiated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "Payments created in pending state",
		},
		[]string{"gateway"},
	)
	Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Settlement attempts by outcome",
		},
		[]string{"gateway", "outcome"}, // newly_settled|already_settled|rejected
	)
	FanoutFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_fanout_failures_total",
			Help: "Side-effect legs that failed after an authoritative transition",
		},
		[]string{"leg"},
	)
	Reversals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_reversals_total",
			Help: "Unsubscribe runs by whether they deactivated a membership",
		},
		[]string{"deactivated"},
	)

	// Webhooks
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound provider events by result",
		},
		[]string{"gateway", "result"},
	)

	// Delivery queue
	EmailJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_jobs_total",
			Help: "Email delivery attempts by resulting status",
		},
		[]string{"type", "status"},
	)
	QueueBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_queue_batch_seconds",
			Help:    "Duration of one queue trigger run",
			Buckets: prometheus.DefBuckets,
		},
	)

	initOnce sync.Once
)

// /metrics endpoint'i için handler
var Handler = promhttp.Handler

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestsTotal)
		prometheus.MustRegister(PaymentsInitiated)
		prometheus.MustRegister(Settlements)
		prometheus.MustRegister(FanoutFailures)
		prometheus.MustRegister(Reversals)
		prometheus.MustRegister(WebhookEvents)
		prometheus.MustRegister(EmailJobs)
		prometheus.MustRegister(QueueBatchDuration)
	})
}
