package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/baharkarakas/supportpay/internal/repository"
)

func NewRepositories(pool *pgxpool.Pool) repo.Repositories {
	return repo.Repositories{
		Transactions:  &transactionsRepo{pool},
		Memberships:   &membershipsRepo{pool},
		Subscriptions: &subscriptionsRepo{pool},
		Earnings:      &earningsRepo{pool},
		EmailJobs:     &emailJobsRepo{pool},
		Channels:      &channelsRepo{pool},
		Suppressions:  &suppressionsRepo{pool},
		Users:         &usersRepo{pool},
		AuditLogs:     &auditLogsRepo{pool},
	}
}

const uniqueViolation = "23505"

// mapErr turns driver errors into repository sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repo.ErrDuplicate
	}
	return err
}
