package auth

import "context"

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID string
	Role   string
}

type ctxKey int

const (
	principalKey ctxKey = iota
	tokenKey
)

// ContextWithPrincipal attaches the authenticated caller to ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// ContextWithToken attaches the raw bearer token to ctx. Handlers that
// revoke the presented token (logout) read it back from here.
func ContextWithToken(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, tokenKey, raw)
}

// TokenFromContext returns the raw bearer token, if any.
func TokenFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(tokenKey).(string)
	return raw, ok
}
