package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/zimagehq/zimage/internal/domain"
)

// UserRepo persists accounts.
type UserRepo struct{ Pool PgxPool }

// NewUserRepo constructs a UserRepo with the given pool.
func NewUserRepo(p PgxPool) *UserRepo { return &UserRepo{Pool: p} }

const userColumns = `id, email, password_hash, name, role, is_active, created_at, updated_at`

// Create inserts a new account and returns its id. A duplicate email maps to
// domain.ErrConflict.
func (r *UserRepo) Create(ctx domain.Context, u domain.User) (string, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Create")
	defer span.End()
	id := u.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO users (id, email, password_hash, name, role, is_active, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, id, u.Email, u.PasswordHash, u.Name, u.Role, true, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", fmt.Errorf("op=user.create: %w", domain.ErrConflict)
		}
		return "", fmt.Errorf("op=user.create: %w", err)
	}
	return id, nil
}

// GetByEmail loads an account by email.
func (r *UserRepo) GetByEmail(ctx domain.Context, email string) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.GetByEmail")
	defer span.End()
	q := `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return r.scanOne(r.Pool.QueryRow(ctx, q, email), "user.get_by_email")
}

// GetByID loads an account by id.
func (r *UserRepo) GetByID(ctx domain.Context, id string) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.GetByID")
	defer span.End()
	q := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return r.scanOne(r.Pool.QueryRow(ctx, q, id), "user.get_by_id")
}

func (r *UserRepo) scanOne(row pgx.Row, op string) (domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return u, nil
}
