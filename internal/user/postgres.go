package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"authgate.org/internal/ids"
)

// Runner routes every query through the relational-store resilience manager.
type Runner interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

const uniqueViolation = "23505"

const userColumns = `id, username, email, password_hash, role, status, created_at, updated_at`

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	db     *sql.DB
	runner Runner
}

var _ Repository = (*PGRepository)(nil)

// NewPGRepository wraps the shared connection pool.
func NewPGRepository(db *sql.DB, runner Runner) *PGRepository {
	return &PGRepository{db: db, runner: runner}
}

func (r *PGRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getBy(ctx, `where username = $1`, strings.TrimSpace(username))
}

func (r *PGRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, `where email = $1`, strings.TrimSpace(strings.ToLower(email)))
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getBy(ctx, `where id = $1`, id)
}

func (r *PGRepository) getBy(ctx context.Context, clause, arg string) (*User, error) {
	var u User
	err := r.runner.Do(ctx, func(ctx context.Context) error {
		row := r.db.QueryRowContext(ctx,
			`select `+userColumns+` from users `+clause, arg)
		return row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
			&u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PGRepository) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	u.Username = strings.TrimSpace(u.Username)

	err := r.runner.Do(ctx, func(ctx context.Context) error {
		row := r.db.QueryRowContext(ctx, `
			insert into users (id, username, email, password_hash, role, status)
			values ($1, $2, $3, $4, $5, $6)
			returning created_at, updated_at
		`, u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.Status)
		return row.Scan(&u.CreatedAt, &u.UpdatedAt)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *PGRepository) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return r.runner.Do(ctx, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx,
			`update users set password_hash = $2, updated_at = now() where id = $1`,
			userID, hash)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
