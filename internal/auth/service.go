// Package auth orchestrates the credential lifecycle: login, refresh,
// logout, registration and the two password-change paths. It owns the
// ordering rules between the token issuer, the revocation ledger and the
// user store; HTTP handlers only translate its results.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"authgate.org/internal/ledger"
	"authgate.org/internal/notify"
	"authgate.org/internal/password"
	"authgate.org/internal/token"
	"authgate.org/internal/user"
)

// MetricsSink receives one observation per auth operation.
type MetricsSink interface {
	Observe(operation string, elapsed time.Duration, success bool)
}

// NoopMetrics discards observations.
type NoopMetrics struct{}

func (NoopMetrics) Observe(string, time.Duration, bool) {}

// revokeRetries bounds the retry loop for session revocation after a
// password change. Revocation must complete before success is reported.
const revokeRetries = 3

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Service is the auth orchestrator.
type Service struct {
	users    user.Repository
	tokens   *token.Issuer
	ledger   *ledger.Ledger
	notifier notify.Sender
	metrics  MetricsSink
	log      *slog.Logger
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNotifier sets the notification sender. Without it, notifications
// are logged instead of delivered.
func WithNotifier(n notify.Sender) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m MetricsSink) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the orchestrator over its collaborators.
func NewService(users user.Repository, tokens *token.Issuer, led *ledger.Ledger, opts ...ServiceOption) *Service {
	s := &Service{
		users:    users,
		tokens:   tokens,
		ledger:   led,
		notifier: &notify.LogSender{},
		metrics:  NoopMetrics{},
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) observe(op string, started time.Time, err error) {
	s.metrics.Observe(op, s.now().Sub(started), err == nil)
}

// Login verifies credentials and mints an access/refresh pair. The refresh
// token's session slot must be recorded before the pair is handed out;
// otherwise the pair would be unrevokable by a later password change.
func (s *Service) Login(ctx context.Context, username, pass string) (pair TokenPair, pub user.Public, err error) {
	started := s.now()
	defer func() { s.observe("login", started, err) }()

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return TokenPair{}, user.Public{}, ErrInvalidCredentials
		}
		return TokenPair{}, user.Public{}, fmt.Errorf("auth: login lookup: %w", err)
	}
	if u.Status != user.StatusActive {
		return TokenPair{}, user.Public{}, ErrAccountInactive
	}
	if password.Verify(u.PasswordHash, pass) != nil {
		return TokenPair{}, user.Public{}, ErrInvalidCredentials
	}

	access, err := s.tokens.IssueAccess(u.ID, string(u.Role))
	if err != nil {
		return TokenPair{}, user.Public{}, fmt.Errorf("auth: issue access: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(u.ID, string(u.Role))
	if err != nil {
		return TokenPair{}, user.Public{}, fmt.Errorf("auth: issue refresh: %w", err)
	}
	if err := s.ledger.RecordRefreshSlot(ctx, u.ID, refresh.ID, refresh.ExpiresAt); err != nil {
		return TokenPair{}, user.Public{}, fmt.Errorf("auth: record session: %w", err)
	}

	s.log.Info("login succeeded", slog.String("user_id", u.ID))
	return TokenPair{
		AccessToken:      access.Value,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Value,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, u.Public(), nil
}

// Refresh exchanges a live refresh token for a new access token. The refresh
// token itself is not rotated; it stays valid until expiry, logout or a
// password change removes its session slot.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (tok token.Token, err error) {
	started := s.now()
	defer func() { s.observe("refresh", started, err) }()

	revoked, err := s.ledger.IsBlacklisted(ctx, rawRefresh)
	if err != nil {
		return token.Token{}, fmt.Errorf("auth: refresh revocation check: %w", err)
	}
	if revoked {
		return token.Token{}, ErrTokenRevoked
	}

	claims, err := s.tokens.Verify(rawRefresh)
	if err != nil {
		return token.Token{}, mapTokenErr(err)
	}
	if claims.Kind != token.KindRefresh {
		return token.Token{}, ErrTokenInvalid
	}

	live, err := s.ledger.HasRefreshSlot(ctx, claims.UserID, claims.TokenID)
	if err != nil {
		return token.Token{}, fmt.Errorf("auth: refresh session check: %w", err)
	}
	if !live {
		return token.Token{}, ErrTokenRevoked
	}

	access, err := s.tokens.IssueAccess(claims.UserID, claims.Role)
	if err != nil {
		return token.Token{}, fmt.Errorf("auth: issue access: %w", err)
	}
	return access, nil
}

// Logout revokes the presented token until its natural expiry. An already
// expired or otherwise invalid token is a harmless no-op: the caller ends up
// logged out either way.
func (s *Service) Logout(ctx context.Context, raw string) (err error) {
	started := s.now()
	defer func() { s.observe("logout", started, err) }()

	claims, verr := s.tokens.Verify(raw)
	if verr != nil {
		return nil
	}
	// Blacklisting is best-effort: an authenticated caller always ends up
	// logged out, even while the ledger is unreachable.
	added, berr := s.ledger.Blacklist(ctx, raw, claims.ExpiresAt)
	if berr != nil {
		s.log.Warn("token blacklist failed on logout",
			slog.String("user_id", claims.UserID), slog.Any("error", berr))
		return nil
	}
	if added && claims.Kind == token.KindRefresh {
		if derr := s.ledger.RevokeRefreshSlot(ctx, claims.UserID, claims.TokenID); derr != nil {
			s.log.Warn("refresh slot removal failed on logout",
				slog.String("user_id", claims.UserID), slog.Any("error", derr))
		}
	}
	return nil
}

// Register creates a new active account.
func (s *Service) Register(ctx context.Context, username, email, pass string) (pub user.Public, err error) {
	started := s.now()
	defer func() { s.observe("register", started, err) }()

	if err := password.CheckStrength(pass); err != nil {
		return user.Public{}, err
	}
	hash, err := password.Hash(pass)
	if err != nil {
		return user.Public{}, fmt.Errorf("auth: hash password: %w", err)
	}
	u := &user.User{Username: username, Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			return user.Public{}, ErrAlreadyExists
		}
		return user.Public{}, fmt.Errorf("auth: create user: %w", err)
	}
	s.log.Info("account registered", slog.String("user_id", u.ID))
	return u.Public(), nil
}

// RequestPasswordReset mints a reset token for the account behind email and
// dispatches it. The result does not betray whether the account exists; an
// unknown address succeeds with an empty token.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (reset token.Token, err error) {
	started := s.now()
	defer func() { s.observe("password_forgot", started, err) }()

	u, lookupErr := s.users.GetByEmail(ctx, email)
	if lookupErr != nil {
		if errors.Is(lookupErr, user.ErrNotFound) {
			return token.Token{}, nil
		}
		return token.Token{}, fmt.Errorf("auth: reset lookup: %w", lookupErr)
	}

	reset, err = s.tokens.IssueReset(u.ID)
	if err != nil {
		return token.Token{}, fmt.Errorf("auth: issue reset: %w", err)
	}
	s.sendNotification(ctx, u.Email, "Password reset requested",
		"A password reset was requested for your account. The reset code expires at "+
			reset.ExpiresAt.UTC().Format(time.RFC3339)+".")
	s.log.Info("password reset requested", slog.String("user_id", u.ID))
	return reset, nil
}

// ValidateResetToken checks a reset token without consuming it.
func (s *Service) ValidateResetToken(ctx context.Context, raw string) (err error) {
	started := s.now()
	defer func() { s.observe("password_validate_reset", started, err) }()

	revoked, err := s.ledger.IsBlacklisted(ctx, raw)
	if err != nil {
		return fmt.Errorf("auth: reset revocation check: %w", err)
	}
	if revoked {
		return ErrTokenRevoked
	}
	if _, err := s.tokens.VerifyReset(raw); err != nil {
		return mapTokenErr(err)
	}
	return nil
}

// ResetPassword consumes a reset token and installs a new password. Every
// outstanding session is revoked before success is reported.
func (s *Service) ResetPassword(ctx context.Context, raw, newPass string) (err error) {
	started := s.now()
	defer func() { s.observe("password_reset", started, err) }()

	revoked, err := s.ledger.IsBlacklisted(ctx, raw)
	if err != nil {
		return fmt.Errorf("auth: reset revocation check: %w", err)
	}
	if revoked {
		return ErrTokenRevoked
	}
	claims, err := s.tokens.VerifyReset(raw)
	if err != nil {
		return mapTokenErr(err)
	}

	if err := s.installPassword(ctx, claims.UserID, newPass); err != nil {
		return err
	}

	// The reset token is single use.
	if _, berr := s.ledger.Blacklist(ctx, raw, claims.ExpiresAt); berr != nil {
		s.log.Warn("reset token blacklist failed",
			slog.String("user_id", claims.UserID), slog.Any("error", berr))
	}

	if u, uerr := s.users.GetByID(ctx, claims.UserID); uerr == nil {
		s.sendNotification(ctx, u.Email, "Password changed",
			"Your password was changed via the reset flow. All sessions have been signed out.")
	}
	s.log.Info("password reset completed", slog.String("user_id", claims.UserID))
	return nil
}

// ChangePassword verifies the current password and installs a new one.
// Every outstanding session is revoked before success is reported.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPass, newPass string) (err error) {
	started := s.now()
	defer func() { s.observe("password_change", started, err) }()

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("auth: change lookup: %w", err)
	}
	if password.Verify(u.PasswordHash, currentPass) != nil {
		return ErrInvalidCredentials
	}

	if err := s.installPassword(ctx, u.ID, newPass); err != nil {
		return err
	}

	s.sendNotification(ctx, u.Email, "Password changed",
		"Your password was changed. All sessions have been signed out.")
	s.log.Info("password changed", slog.String("user_id", u.ID))
	return nil
}

// installPassword validates, hashes, persists and then revokes every
// outstanding session. Revocation is retried and must succeed: reporting
// success while old refresh tokens stay live would defeat the change.
func (s *Service) installPassword(ctx context.Context, userID, newPass string) error {
	if err := password.CheckStrength(newPass); err != nil {
		return err
	}
	hash, err := password.Hash(newPass)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("auth: update password: %w", err)
	}

	var revokeErr error
	for attempt := 0; attempt < revokeRetries; attempt++ {
		_, revokeErr = s.ledger.RevokeAllRefreshSlots(ctx, userID)
		if revokeErr == nil {
			return nil
		}
		s.log.Warn("session revocation failed, retrying",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt+1),
			slog.Any("error", revokeErr))
	}
	return fmt.Errorf("auth: revoke sessions: %w", revokeErr)
}

// Authenticate validates a bearer access token and returns its principal.
// Used by the HTTP layer on protected routes.
func (s *Service) Authenticate(ctx context.Context, raw string) (Principal, error) {
	revoked, err := s.ledger.IsBlacklisted(ctx, raw)
	if err != nil {
		return Principal{}, fmt.Errorf("auth: revocation check: %w", err)
	}
	if revoked {
		return Principal{}, ErrTokenRevoked
	}
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return Principal{}, mapTokenErr(err)
	}
	if claims.Kind != token.KindAccess {
		return Principal{}, ErrTokenInvalid
	}
	return Principal{UserID: claims.UserID, Role: claims.Role}, nil
}

// sendNotification dispatches best-effort; delivery failure is logged and
// never surfaces to the caller.
func (s *Service) sendNotification(ctx context.Context, to, subject, body string) {
	if to == "" {
		return
	}
	if err := s.notifier.Send(ctx, notify.Message{To: to, Subject: subject, Body: body}); err != nil {
		s.log.Warn("notification failed", slog.String("subject", subject), slog.Any("error", err))
	}
}

func mapTokenErr(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
