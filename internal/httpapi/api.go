// Package httpapi is the HTTP surface. Handlers translate between the JSON
// envelope and the auth orchestrator; they carry no auth logic of their own.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
	"authgate.org/internal/password"
	"authgate.org/internal/rate"
)

// StoreProbe reports liveness of one backing store for the readiness probe.
type StoreProbe struct {
	Name    string
	Healthy func() bool
}

// Config wires the API's collaborators.
type Config struct {
	Auth    *auth.Service
	Log     *slog.Logger
	Version string
	Stores  []StoreProbe

	// Per-entry-point limiters. Nil disables limiting for that route.
	LoginLimiter    rate.Limiter
	RegisterLimiter rate.Limiter
	ResetLimiter    rate.Limiter
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	auth    *auth.Service
	log     *slog.Logger
	version string
	stores  []StoreProbe
}

// New builds the router. Every auth route is POST-only JSON.
func New(cfg Config) *API {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	a := &API{
		mux:     http.NewServeMux(),
		auth:    cfg.Auth,
		log:     log,
		version: cfg.Version,
		stores:  cfg.Stores,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/v1/auth/register", a.withRateLimit(cfg.RegisterLimiter, http.HandlerFunc(a.handleRegister)))
	a.mux.Handle("/v1/auth/login", a.withRateLimit(cfg.LoginLimiter, http.HandlerFunc(a.handleLogin)))
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.Handle("/v1/auth/logout", a.requireAuth(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/v1/auth/password/forgot", a.withRateLimit(cfg.ResetLimiter, http.HandlerFunc(a.handleForgotPassword)))
	a.mux.HandleFunc("/v1/auth/password/validate-reset", a.handleValidateReset)
	a.mux.Handle("/v1/auth/password/reset", a.withRateLimit(cfg.ResetLimiter, http.HandlerFunc(a.handleResetPassword)))
	a.mux.Handle("/v1/auth/password/change", a.requireAuth(http.HandlerFunc(a.handleChangePassword)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = a.logging(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authgate",
		"version": a.version,
	})
}

// handleReadyz reports each backing store. Ready only when all are up.
func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]string, len(a.stores))
	ready := true
	for _, p := range a.stores {
		if p.Healthy() {
			states[p.Name] = "up"
		} else {
			states[p.Name] = "down"
			ready = false
		}
	}
	code := http.StatusOK
	status := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		status = "not_ready"
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"stores": states,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// respond wraps payload fields in the success envelope.
func respond(w http.ResponseWriter, code int, message string, data map[string]any) {
	body := map[string]any{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range data {
		body[k] = v
	}
	writeJSON(w, code, body)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"message": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuthError maps orchestrator errors onto the status taxonomy. An
// expired token additionally carries the tokenExpired flag so clients know
// to try the refresh route.
func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success":      false,
			"message":      "token expired",
			"tokenExpired": true,
		})
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, userMessage(err))
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, userMessage(err))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusBadRequest, "account already exists")
	case errors.Is(err, password.ErrWeakPassword):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		a.log.Error("request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, auth.ErrTokenRevoked):
		return "token revoked"
	case errors.Is(err, auth.ErrAccountInactive):
		return "account is not active"
	default:
		return "invalid token"
	}
}
