package httpapi

import (
	"net/http"
	"strings"

	"qazna.org/authcore/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// PermSessionsPurge guards the maintenance endpoint that deletes expired sessions.
	PermSessionsPurge = "sessions:purge"
)

// authenticate verifies the access token and attaches the principal to the
// request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.svc.Authenticate(accessToken(r))
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// RequireRole ensures the authenticated principal holds role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return require(func(p auth.Principal) bool { return p.HasRole(role) })
}

// RequirePermission ensures the authenticated principal holds perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return require(func(p auth.Principal) bool { return p.HasPermission(perm) })
}

func require(allowed func(auth.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
				writeError(w, r, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !allowed(p) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="authcore", error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) handlePurgeSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	n, err := a.svc.PurgeExpiredSessions(r.Context())
	a.audit.Event(r.Context(), "purge_sessions", auth.Outcome(err))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

// accessToken prefers the Authorization header over the accessToken cookie.
func accessToken(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	return cookieValue(r, accessCookie)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
