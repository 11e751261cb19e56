package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"qazna.org/authcore/internal/auth"
	"qazna.org/authcore/internal/obs"
)

// respondError maps err onto a status and message. Unexpected errors are logged
// and reported as 500 without detail.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
	}
	if status == http.StatusInternalServerError {
		obs.LogError(a.log, "request failed", err,
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path)
	}
	writeError(w, r, status, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusBadRequest, "email already exists"
	case errors.Is(err, auth.ErrPasswordReuse):
		return http.StatusBadRequest, "new password must be different"
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, publicMessage(err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "not authenticated"
	case auth.IsTokenError(err):
		return http.StatusBadRequest, "reset token is invalid or expired"
	case errors.Is(err, auth.ErrIdentityNotFound):
		return http.StatusNotFound, "user not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// publicMessage strips the package prefix from validation errors, which only
// carry caller-supplied detail.
func publicMessage(err error) string {
	return strings.ReplaceAll(err.Error(), "auth: ", "")
}
