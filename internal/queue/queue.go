// Package queue is the email delivery queue. Jobs are persisted first and
// delivered by a triggered batch run with exponential backoff. Delivery is
// at-least-once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/baharkarakas/supportpay/internal/mail"
	"github.com/baharkarakas/supportpay/internal/metrics"
	"github.com/baharkarakas/supportpay/internal/models"
	"github.com/baharkarakas/supportpay/internal/repository"
	"github.com/baharkarakas/supportpay/internal/worker"
)

const DefaultBatchSize = 10

// Sender delivers one job. It is called after the job was claimed.
type Sender interface {
	Send(ctx context.Context, job models.EmailJob) error
}

type SenderFunc func(ctx context.Context, job models.EmailJob) error

func (f SenderFunc) Send(ctx context.Context, job models.EmailJob) error { return f(ctx, job) }

// MailSender renders the job's notification and hands it to a mailer.
type MailSender struct {
	Mailer mail.Mailer
}

func (s MailSender) Send(ctx context.Context, job models.EmailJob) error {
	n, err := job.Notification()
	if err != nil {
		return err
	}
	msg, err := mail.Render(job.Recipient, n)
	if err != nil {
		return err
	}
	return s.Mailer.Send(ctx, msg)
}

type Options struct {
	BatchSize   int
	Concurrency int
	Now         func() time.Time
}

type Queue struct {
	jobs   repository.EmailJobs
	sender Sender
	log    *slog.Logger

	batchSize   int
	concurrency int
	now         func() time.Time
}

func New(jobs repository.EmailJobs, sender Sender, log *slog.Logger, opts Options) *Queue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{jobs: jobs, sender: sender, log: log,
		batchSize: opts.BatchSize, concurrency: opts.Concurrency, now: opts.Now}
}

// Backoff is the wait after the given failed attempt: 5^attempts minutes.
func Backoff(attempts int) time.Duration {
	return time.Duration(math.Pow(5, float64(attempts))) * time.Minute
}

func (q *Queue) Enqueue(ctx context.Context, job models.EmailJob) (models.EmailJob, error) {
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = q.now()
	}
	created, err := q.jobs.Create(ctx, job)
	if err != nil {
		return models.EmailJob{}, fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	metrics.EmailJobs.WithLabelValues(string(job.Type), string(models.EmailPending)).Inc()
	return created, nil
}

// EnqueueOrSend falls back to one direct delivery when the insert fails.
// The direct send gets no retries.
func (q *Queue) EnqueueOrSend(ctx context.Context, job models.EmailJob) error {
	_, err := q.Enqueue(ctx, job)
	if err == nil {
		return nil
	}
	q.log.Warn("email enqueue failed, sending directly", "type", job.Type, "recipient", job.Recipient, "err", err)
	if sendErr := q.sender.Send(ctx, job); sendErr != nil {
		metrics.EmailJobs.WithLabelValues(string(job.Type), "direct_failed").Inc()
		return errors.Join(err, fmt.Errorf("direct send: %w", sendErr))
	}
	metrics.EmailJobs.WithLabelValues(string(job.Type), "direct_sent").Inc()
	return nil
}

type BatchStats struct {
	Processed  int   `json:"processed"`
	Sent       int   `json:"sent"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"durationMs"`
}

// ProcessBatch delivers up to one batch of due jobs.
func (q *Queue) ProcessBatch(ctx context.Context) (BatchStats, error) {
	start := time.Now()
	defer func() { metrics.QueueBatchDuration.Observe(time.Since(start).Seconds()) }()

	due, err := q.jobs.ListDue(ctx, q.now(), q.batchSize)
	if err != nil {
		return BatchStats{}, fmt.Errorf("list due jobs: %w", err)
	}

	var (
		mu    sync.Mutex
		stats BatchStats
	)
	pool := worker.NewPool(q.concurrency, len(due), q.log)
	for _, job := range due {
		pool.Submit(func() {
			sent, processed := q.deliver(ctx, job.ID)
			mu.Lock()
			defer mu.Unlock()
			if !processed {
				return
			}
			stats.Processed++
			if sent {
				stats.Sent++
			} else {
				stats.Failed++
			}
		})
	}
	pool.Stop()

	stats.DurationMs = time.Since(start).Milliseconds()
	return stats, nil
}

// send runs the sender, turning a panic into a failed attempt so a claimed
// job never stays in processing.
func (q *Queue) send(ctx context.Context, job models.EmailJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("email sender panicked", "job_id", job.ID, "panic", r)
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return q.sender.Send(ctx, job)
}

// deliver claims and sends one job. processed is false when the claim was
// lost to another worker or could not be recorded.
func (q *Queue) deliver(ctx context.Context, id string) (sent, processed bool) {
	job, ok, err := q.jobs.Claim(ctx, id, q.now())
	if err != nil {
		q.log.Error("claim email job", "job_id", id, "err", err)
		return false, false
	}
	if !ok {
		return false, false
	}

	sendErr := q.send(ctx, job)
	now := q.now()
	if sendErr == nil {
		if err := q.jobs.MarkSent(ctx, job.ID, now); err != nil {
			q.log.Error("mark email job sent", "job_id", job.ID, "err", err)
		}
		metrics.EmailJobs.WithLabelValues(string(job.Type), string(models.EmailSent)).Inc()
		return true, true
	}

	status := models.EmailPending
	if job.Attempts >= job.MaxAttempts {
		status = models.EmailFailed
	}
	next := now.Add(Backoff(job.Attempts))
	if err := q.jobs.MarkFailedAttempt(ctx, job.ID, status, next, sendErr.Error()); err != nil {
		q.log.Error("record email failure", "job_id", job.ID, "err", err)
	}
	q.log.Warn("email delivery failed", "job_id", job.ID, "type", job.Type,
		"attempts", job.Attempts, "status", status, "next_attempt_at", next, "err", sendErr)
	metrics.EmailJobs.WithLabelValues(string(job.Type), string(status)).Inc()
	return false, true
}
