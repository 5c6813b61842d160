// Package password owns hashing and strength policy. Hashes never leave
// this boundary in logs or API responses.
package password

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minLength = 8

// ErrWeakPassword reports a strength policy violation.
var ErrWeakPassword = errors.New("password: too weak")

// Hash hashes a plaintext password using bcrypt.
func Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password: empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares a plaintext password with a stored hash.
func Verify(hash, password string) error {
	if hash == "" {
		return errors.New("password: hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// CheckStrength enforces the minimum policy: length, at least one letter,
// at least one digit.
func CheckStrength(password string) error {
	if len(password) < minLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, minLength)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: must contain a letter and a digit", ErrWeakPassword)
	}
	return nil
}
