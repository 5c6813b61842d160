package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown accounts and wrong passwords
	// alike, so a caller cannot probe which usernames exist.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountInactive rejects any account whose status is not active.
	ErrAccountInactive = errors.New("auth: account is not active")

	// ErrTokenExpired marks a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid covers malformed tokens, bad signatures, not-yet-valid
	// tokens and kind mismatches.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrTokenRevoked marks a token present in the revocation ledger, or a
	// refresh token whose session slot no longer exists.
	ErrTokenRevoked = errors.New("auth: token revoked")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrUnauthorized  = errors.New("auth: unauthorized")
)
