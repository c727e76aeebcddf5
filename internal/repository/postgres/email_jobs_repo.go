package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

type emailJobsRepo struct{ pool *pgxpool.Pool }

const jobColumns = `id, recipient, type, payload, status, attempts, max_attempts, next_attempt_at,
  last_error, created_at, updated_at, sent_at`

func scanJob(row pgx.Row) (models.EmailJob, error) {
	var (
		j       models.EmailJob
		payload []byte
	)
	err := row.Scan(&j.ID, &j.Recipient, &j.Type, &payload, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.NextAttemptAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &j.SentAt)
	j.Payload = payload
	return j, mapErr(err)
}

func (r *emailJobsRepo) Create(ctx context.Context, j models.EmailJob) (models.EmailJob, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = models.DefaultMaxAttempts
	}
	next := j.NextAttemptAt
	if next.IsZero() {
		next = time.Now()
	}
	return scanJob(r.pool.QueryRow(ctx, `
INSERT INTO email_queue_jobs (id, recipient, type, payload, status, attempts, max_attempts, next_attempt_at)
VALUES ($1,$2,$3,$4,'pending',0,$5,$6)
RETURNING `+jobColumns,
		j.ID, j.Recipient, j.Type, string(j.Payload), j.MaxAttempts, next))
}

func (r *emailJobsRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]models.EmailJob, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+jobColumns+`
  FROM email_queue_jobs
 WHERE status IN ('pending','failed')
   AND next_attempt_at <= $1
   AND attempts < max_attempts
 ORDER BY created_at
 LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EmailJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *emailJobsRepo) Claim(ctx context.Context, id string, now time.Time) (models.EmailJob, bool, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `
UPDATE email_queue_jobs
   SET status = 'processing', attempts = attempts + 1, updated_at = $2
 WHERE id = $1 AND status IN ('pending','failed') AND attempts < max_attempts
RETURNING `+jobColumns, id, now))
	if err == repo.ErrNotFound {
		return models.EmailJob{}, false, nil
	}
	if err != nil {
		return models.EmailJob{}, false, err
	}
	return j, true, nil
}

func (r *emailJobsRepo) MarkSent(ctx context.Context, id string, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE email_queue_jobs SET status='sent', sent_at=$2, updated_at=$2, last_error=NULL WHERE id=$1`,
		id, now)
	return err
}

func (r *emailJobsRepo) MarkFailedAttempt(ctx context.Context, id string, status models.EmailJobStatus, nextAttemptAt time.Time, lastError string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE email_queue_jobs
		    SET status=$2, next_attempt_at=$3, last_error=$4, updated_at=now()
		  WHERE id=$1`,
		id, status, nextAttemptAt, lastError)
	return err
}

func (r *emailJobsRepo) GetByID(ctx context.Context, id string) (models.EmailJob, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM email_queue_jobs WHERE id=$1`, id))
}
