package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baharkarakas/supportpay/internal/models"
)

// usersRepo reads the account directory owned by the main platform.
type usersRepo struct{ pool *pgxpool.Pool }

func (r *usersRepo) GetByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, display_name, role FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role)
	return u, mapErr(err)
}
