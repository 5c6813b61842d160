// Package token mints and verifies the service's signed bearer credentials.
// Every token carries a kind tag (access, refresh, reset) that consumers
// match on exhaustively; there is no untyped claim inspection elsewhere.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates the three credential variants.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAccess
	KindRefresh
	KindReset
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindRefresh:
		return "refresh"
	case KindReset:
		return "reset"
	default:
		return "unknown"
	}
}

func kindFromString(s string) Kind {
	switch s {
	case "access":
		return KindAccess
	case "refresh":
		return KindRefresh
	case "reset":
		return KindReset
	default:
		return KindUnknown
	}
}

// Verification failures are classified so callers can give differentiated,
// non-leaking feedback.
var (
	ErrExpired      = errors.New("token: expired")
	ErrBadSignature = errors.New("token: bad signature")
	ErrNotYetValid  = errors.New("token: not yet valid")
	ErrMalformed    = errors.New("token: malformed")
)

// Claims is the verified payload of a token.
type Claims struct {
	UserID    string
	Role      string
	Kind      Kind
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Token is a freshly minted credential.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultResetTTL   = 15 * time.Minute
)

// Issuer signs and verifies tokens with a shared HS256 secret.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) Option {
	return func(i *Issuer) {
		if strings.TrimSpace(name) != "" {
			i.issuer = strings.TrimSpace(name)
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithResetTTL configures reset token lifetime.
func WithResetTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.resetTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer. The secret is mandatory.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret is required")
	}
	i := &Issuer{
		secret:     []byte(secret),
		issuer:     "authgate",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		resetTTL:   defaultResetTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

type signedClaims struct {
	Role string `json:"role,omitempty"`
	Kind string `json:"token_kind"`
	jwt.RegisteredClaims
}

// IssueAccess mints a short-lived access token for API calls.
func (i *Issuer) IssueAccess(userID, role string) (Token, error) {
	return i.issue(KindAccess, userID, role, i.accessTTL)
}

// IssueRefresh mints a long-lived refresh token. The returned ID is the
// token's jti, used as the refresh-slot suffix in the revocation ledger.
func (i *Issuer) IssueRefresh(userID, role string) (Token, error) {
	return i.issue(KindRefresh, userID, role, i.refreshTTL)
}

// IssueReset mints a short-lived password-reset token.
func (i *Issuer) IssueReset(userID string) (Token, error) {
	return i.issue(KindReset, userID, "", i.resetTTL)
}

func (i *Issuer) issue(kind Kind, userID, role string, ttl time.Duration) (Token, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Token{}, errors.New("token: userID is required")
	}
	now := i.now().UTC()
	exp := now.Add(ttl)
	jti := uuid.NewString()
	claims := signedClaims{
		Role: role,
		Kind: kind.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ID: jti, ExpiresAt: exp}, nil
}

// Verify checks signature and registered claims and returns the decoded
// payload. Failures are always one of the classified sentinel errors; Verify
// never panics and never returns raw library errors.
func (i *Issuer) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrMalformed
	}
	var sc signedClaims
	parsed, err := jwt.ParseWithClaims(raw, &sc, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrBadSignature
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Claims{}, classify(err)
	}
	if !parsed.Valid {
		return Claims{}, ErrMalformed
	}
	if strings.TrimSpace(sc.Subject) == "" {
		return Claims{}, ErrMalformed
	}
	kind := kindFromString(sc.Kind)
	if kind == KindUnknown {
		return Claims{}, ErrMalformed
	}
	c := Claims{
		UserID:  sc.Subject,
		Role:    sc.Role,
		Kind:    kind,
		TokenID: sc.ID,
	}
	if sc.IssuedAt != nil {
		c.IssuedAt = sc.IssuedAt.Time
	}
	if sc.ExpiresAt != nil {
		c.ExpiresAt = sc.ExpiresAt.Time
	}
	return c, nil
}

// VerifyReset verifies a password-reset token. Any token whose kind is not
// reset is reported as malformed; reset verification deliberately does not
// distinguish failure causes.
func (i *Issuer) VerifyReset(raw string) (Claims, error) {
	claims, err := i.Verify(raw)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != KindReset {
		return Claims{}, ErrMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	default:
		return ErrMalformed
	}
}
