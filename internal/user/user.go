// Package user owns the account records backing authentication. The
// password hash never leaves this package except inside User, which is
// confined to the auth orchestrator; HTTP responses only ever see Public().
package user

import (
	"context"
	"errors"
	"time"
)

// Role is the coarse authorization level attached to an account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleUser     Role = "user"
	RoleReadOnly Role = "readonly"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusPending   Status = "pending"
	StatusSuspended Status = "suspended"
)

var (
	ErrNotFound      = errors.New("user: not found")
	ErrAlreadyExists = errors.New("user: already exists")
)

// User is the full account record.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public is the projection safe to return to callers.
type Public struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public strips credential material from the record.
func (u *User) Public() Public {
	return Public{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
	}
}

// Repository is the persistence contract consumed by the auth orchestrator.
type Repository interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}
