package user

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// passthrough stands in for the resilience manager in repository tests.
type passthrough struct{}

func (passthrough) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func newTestRepo(t *testing.T) (*PGRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPGRepository(db, passthrough{}), mock
}

func userRows(u *User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "role", "status", "created_at", "updated_at",
	}).AddRow(u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), string(u.Status), u.CreatedAt, u.UpdatedAt)
}

func TestGetByUsername(t *testing.T) {
	repo, mock := newTestRepo(t)
	now := time.Now()
	want := &User{
		ID: "u-1", Username: "alice", Email: "alice@example.com",
		PasswordHash: "$2a$10$hash", Role: RoleUser, Status: StatusActive,
		CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectQuery("select .* from users where username").
		WithArgs("alice").
		WillReturnRows(userRows(want))

	got, err := repo.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if got.ID != want.ID || got.PasswordHash != want.PasswordHash {
		t.Fatalf("unexpected user: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetByEmailNormalizesAndMapsNotFound(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("select .* from users where email").
		WithArgs("alice@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "  Alice@Example.COM ")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAssignsDefaults(t *testing.T) {
	repo, mock := newTestRepo(t)
	now := time.Now()

	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "bob", "bob@example.com", "$2a$10$hash", "user", "active").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	u := &User{Username: "bob", Email: "Bob@Example.com", PasswordHash: "$2a$10$hash"}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated id")
	}
	if u.Role != RoleUser || u.Status != StatusActive {
		t.Fatalf("defaults not applied: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("update users set password_hash").
		WithArgs("u-1", "$2a$10$newhash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdatePasswordHash(context.Background(), "u-1", "$2a$10$newhash"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}

	mock.ExpectExec("update users set password_hash").
		WithArgs("missing", "$2a$10$newhash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdatePasswordHash(context.Background(), "missing", "$2a$10$newhash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPublicStripsHash(t *testing.T) {
	u := &User{ID: "u-1", Username: "alice", PasswordHash: "secret", Role: RoleAdmin, Status: StatusActive}
	p := u.Public()
	if p.ID != "u-1" || p.Username != "alice" || p.Role != RoleAdmin {
		t.Fatalf("unexpected projection: %+v", p)
	}
}
