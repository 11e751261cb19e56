package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"qazna.org/authcore/internal/auth"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
	resetCookie   = "resetPasswordToken"

	accessCookieMaxAge  = 7 * 24 * time.Hour
	refreshCookieMaxAge = 30 * 24 * time.Hour
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	pair, err := a.svc.Register(r.Context(), req.Email, req.Password)
	a.audit.Event(r.Context(), "register", auth.Outcome(err))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.setCredentialCookies(w, pair)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "success"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	pair, err := a.svc.Login(r.Context(), req.Email, req.Password)
	a.audit.Event(r.Context(), "login", auth.Outcome(err), slog.String("remote_ip", clientIP(r)))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.setCredentialCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	pair, err := a.svc.Refresh(r.Context(), cookieValue(r, refreshCookie))
	a.audit.Event(r.Context(), "refresh", auth.Outcome(err))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.setCredentialCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleLogout always clears cookies; sessions are revoked when either cookie
// still identifies the caller.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	access := bearerToken(r)
	if access == "" {
		access = cookieValue(r, accessCookie)
	}
	err := a.svc.Logout(r.Context(), access, cookieValue(r, refreshCookie))
	a.audit.Event(r.Context(), "logout", auth.Outcome(err))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.clearCredentialCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
		return
	}
	p, err := a.svc.WhoAmI(r.Context(), accessToken(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	token, err := a.svc.RequestPasswordReset(r.Context(), req.Email)
	a.audit.Event(r.Context(), "request_password_reset", auth.Outcome(err))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	token := cookieValue(r, resetCookie)
	if token == "" {
		token = bearerToken(r)
	}
	err := a.svc.ResetPassword(r.Context(), token, req.NewPassword)
	a.audit.Event(r.Context(), "reset_password", auth.Outcome(err))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.clearCookie(w, resetCookie)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset successfully"})
}

func (a *API) setCredentialCookies(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, a.cookie(accessCookie, pair.AccessToken, accessCookieMaxAge))
	http.SetCookie(w, a.cookie(refreshCookie, pair.RefreshToken, refreshCookieMaxAge))
}

func (a *API) clearCredentialCookies(w http.ResponseWriter) {
	a.clearCookie(w, accessCookie)
	a.clearCookie(w, refreshCookie)
}

func (a *API) clearCookie(w http.ResponseWriter, name string) {
	c := a.cookie(name, "", 0)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func (a *API) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.cookies.Domain,
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   a.cookies.Secure,
		SameSite: a.cookies.SameSite,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
