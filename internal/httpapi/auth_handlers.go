package httpapi

import (
	"net/http"
	"strings"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username, email and password are required")
		return
	}

	pub, err := a.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{"username": pub.Username})
	respond(w, http.StatusCreated, "account created", map[string]any{"user": pub})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	pair, pub, err := a.auth.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{"username": pub.Username})
	respond(w, http.StatusOK, "login successful", map[string]any{
		"user":   pub,
		"tokens": pair,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refreshToken is required")
		return
	}

	access, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "token refreshed", map[string]any{
		"accessToken":     access.Value,
		"accessExpiresAt": access.ExpiresAt,
	})
}

// handleLogout revokes the bearer token the middleware authenticated with,
// plus an optional refresh token from the body.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	// Body is optional on logout.
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	if raw, ok := auth.TokenFromContext(r.Context()); ok {
		if err := a.auth.Logout(r.Context(), raw); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
	}
	if strings.TrimSpace(req.RefreshToken) != "" {
		if err := a.auth.Logout(r.Context(), req.RefreshToken); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	respond(w, http.StatusOK, "logged out", nil)
}

type forgotRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword always answers the same way, so the route cannot be
// used to enumerate accounts.
func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req forgotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	if _, err := a.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.forgot", nil)
	respond(w, http.StatusOK, "if the account exists, a reset message has been sent", nil)
}

type validateResetRequest struct {
	Token string `json:"token"`
}

func (a *API) handleValidateReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req validateResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	if err := a.auth.ValidateResetToken(r.Context(), req.Token); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "token is valid", nil)
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" || req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "token and newPassword are required")
		return
	}

	if err := a.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.reset", nil)
	respond(w, http.StatusOK, "password has been reset", nil)
}

type changeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}

	if err := a.auth.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.change", nil)
	respond(w, http.StatusOK, "password changed", nil)
}
