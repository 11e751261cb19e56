package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"qazna.org/authcore/internal/audit"
	"qazna.org/authcore/internal/auth"
	"qazna.org/authcore/internal/obs"
)

const (
	serviceName         = "authcore"
	defaultMaxBodyBytes = 1 << 20
	defaultRateBurst    = 20
	defaultRatePerSec   = 10
)

// ReadinessChecker reports whether the process can serve traffic.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database. Without one (in-memory store) it is always ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// CookieConfig controls the attributes of credential cookies.
type CookieConfig struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// DefaultCookies reproduces the cross-site cookie policy: Secure and SameSite=None.
func DefaultCookies() CookieConfig {
	return CookieConfig{Secure: true, SameSite: http.SameSiteNoneMode}
}

// Options configures the HTTP layer. Zero values fall back to sane defaults.
type Options struct {
	Logger       *slog.Logger
	Audit        *audit.Logger
	Ready        ReadinessChecker
	Version      string
	Cookies      CookieConfig
	CORSOrigins  []string
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
}

// API is the HTTP layer over auth.Service.
type API struct {
	mux     *http.ServeMux
	svc     *auth.Service
	log     *slog.Logger
	audit   *audit.Logger
	ready   ReadinessChecker
	version string
	cookies CookieConfig
	cors    func(http.Handler) http.Handler
	limiter *RateLimiter
	maxBody int64
	now     func() time.Time
}

// New wires routes for svc.
func New(svc *auth.Service, opts Options) (*API, error) {
	if svc == nil {
		return nil, errors.New("httpapi: service is required")
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = defaultRateBurst
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = defaultRatePerSec
	}
	cors, err := CORS(opts.CORSOrigins)
	if err != nil {
		return nil, fmt.Errorf("httpapi: cors origins: %w", err)
	}
	a := &API{
		mux:     http.NewServeMux(),
		svc:     svc,
		log:     opts.Logger,
		audit:   opts.Audit,
		ready:   opts.Ready,
		version: opts.Version,
		cookies: opts.Cookies,
		cors:    cors,
		limiter: NewRateLimiter(opts.RateBurst, opts.RatePerSec),
		maxBody: opts.MaxBodyBytes,
		now:     time.Now,
	}
	if a.log == nil {
		a.log = slog.New(slog.DiscardHandler)
	}
	if a.audit == nil {
		a.audit = audit.New(a.log)
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.maxBody <= 0 {
		a.maxBody = defaultMaxBodyBytes
	}
	if a.cookies.SameSite == 0 {
		a.cookies.SameSite = http.SameSiteNoneMode
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/me", a.handleMe)
	a.mux.HandleFunc("/auth/request_password_reset", a.handleRequestPasswordReset)
	a.mux.HandleFunc("/auth/reset_password", a.handleResetPassword)

	a.mux.Handle("/admin/sessions/purge",
		a.authenticate(RequirePermission(PermSessionsPurge)(http.HandlerFunc(a.handlePurgeSessions))))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	return a, nil
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = a.limiter.Middleware(h)
	h = a.cors(h)
	h = SecurityHeaders(h)
	h = Logging(a.log)(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.LogError(a.log, "readiness check failed", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
		"alg":     a.svc.Codec().Algorithm(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	body := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		body["request_id"] = rid
	}
	writeJSON(w, code, body)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body too large", auth.ErrInvalidInput)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", auth.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed JSON", auth.ErrInvalidInput)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected trailing data", auth.ErrInvalidInput)
	}
	return nil
}
