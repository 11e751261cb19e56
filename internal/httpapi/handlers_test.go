package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"qazna.org/authcore/internal/auth"
)

const testPassword = "Sup3rSecret"

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemoryStore
	t       *testing.T
}

func newTestService(t *testing.T) (*auth.Service, *auth.MemoryStore) {
	t.Helper()
	store := auth.NewMemoryStore(nil)
	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: "authcore-test",
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	svc, err := auth.NewService(store, codec,
		auth.WithHasher(auth.NewArgon2Hasher(auth.Argon2Params{Time: 1, Memory: 1024})))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func newTestAPI(t *testing.T, ready ReadinessChecker) *apiClient {
	t.Helper()
	svc, store := newTestService(t)
	api, err := New(svc, Options{
		Ready:      ready,
		Version:    "test",
		Cookies:    CookieConfig{Secure: false, SameSite: http.SameSiteLaxMode},
		RateBurst:  100,
		RatePerSec: 100,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	client := srv.Client()
	client.Jar = jar
	return &apiClient{baseURL: srv.URL, client: client, store: store, t: t}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string) *http.Response {
	c.t.Helper()
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) register(email string) {
	c.t.Helper()
	resp := c.post("/auth/register", map[string]string{"email": email, "password": testPassword}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register status = %d", resp.StatusCode)
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAPISessionLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.post("/auth/register", map[string]string{"email": "Ada@Example.com", "password": testPassword}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["status"] != "success" {
		t.Fatalf("register body = %v", body)
	}
	if cookieNamed(resp, accessCookie) == nil || cookieNamed(resp, refreshCookie) == nil {
		t.Fatalf("credential cookies missing: %v", resp.Cookies())
	}

	resp = api.post("/auth/me", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	me := decode[map[string]any](t, resp)
	if me["email"] != "ada@example.com" {
		t.Fatalf("me = %v", me)
	}
	if roles, ok := me["roles"].([]any); !ok || len(roles) != 0 {
		t.Fatalf("roles = %#v", me["roles"])
	}

	resp = api.post("/auth/refresh", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	rotated := cookieNamed(resp, refreshCookie)
	resp.Body.Close()
	if rotated == nil || rotated.Value == "" {
		t.Fatalf("refresh cookie not rotated")
	}

	resp = api.post("/auth/logout", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/auth/me", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	resp.Body.Close()

	// The rotated refresh token was revoked by logout.
	req, _ := http.NewRequest(http.MethodPost, api.baseURL+"/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookie, Value: rotated.Value})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d", resp.StatusCode)
	}
}

func TestAPIRegisterErrors(t *testing.T) {
	api := newTestAPI(t, nil)
	api.register("dup@example.com")

	cases := []struct {
		name string
		body any
		want int
		msg  string
	}{
		{"duplicate", map[string]string{"email": "DUP@example.com", "password": testPassword}, http.StatusBadRequest, "email already exists"},
		{"weak password", map[string]string{"email": "new@example.com", "password": "short"}, http.StatusBadRequest, "password is invalid"},
		{"bad email", map[string]string{"email": "nope", "password": testPassword}, http.StatusBadRequest, "valid email is required"},
		{"unknown field", map[string]any{"email": "x@example.com", "password": testPassword, "admin": true}, http.StatusBadRequest, "malformed JSON"},
		{"empty body", nil, http.StatusBadRequest, "request body is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.post("/auth/register", tc.body, nil)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			body := decode[map[string]string](t, resp)
			if !strings.Contains(body["error"], tc.msg) {
				t.Fatalf("error = %q, want %q", body["error"], tc.msg)
			}
			if strings.Contains(body["error"], "auth:") {
				t.Fatalf("internal prefix leaked: %q", body["error"])
			}
			if body["request_id"] == "" {
				t.Fatalf("missing request_id")
			}
		})
	}
}

func TestAPILoginDoesNotRevealAccounts(t *testing.T) {
	api := newTestAPI(t, nil)
	api.register("known@example.com")

	var bodies []map[string]string
	for _, email := range []string{"known@example.com", "unknown@example.com"} {
		resp := api.post("/auth/login", map[string]string{"email": email, "password": "Wrong-password1"}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", email, resp.StatusCode)
		}
		body := decode[map[string]string](t, resp)
		bodies = append(bodies, body)
	}
	if bodies[0]["error"] != bodies[1]["error"] {
		t.Fatalf("login errors differ: %v", bodies)
	}
}

func TestAPIPasswordReset(t *testing.T) {
	api := newTestAPI(t, nil)
	api.register("reset@example.com")

	resp := api.post("/auth/request_password_reset", map[string]string{"email": "nobody@example.com"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown email status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/auth/request_password_reset", map[string]string{"email": "reset@example.com"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request reset status = %d", resp.StatusCode)
	}
	token := decode[map[string]string](t, resp)["token"]
	if token == "" {
		t.Fatalf("empty reset token")
	}
	bearerHdr := map[string]string{"Authorization": "Bearer " + token}

	resp = api.post("/auth/reset_password", map[string]string{"new_password": testPassword}, bearerHdr)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reuse status = %d", resp.StatusCode)
	}
	if msg := decode[map[string]string](t, resp)["error"]; msg != "new password must be different" {
		t.Fatalf("reuse error = %q", msg)
	}

	resp = api.post("/auth/reset_password", map[string]string{"new_password": "An0therSecret"}, bearerHdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	if msg := decode[map[string]string](t, resp)["message"]; msg != "Password has been reset successfully" {
		t.Fatalf("reset message = %q", msg)
	}

	resp = api.post("/auth/reset_password", map[string]string{"new_password": "Yet4notherOne"}, bearerHdr)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second redemption status = %d", resp.StatusCode)
	}
	if msg := decode[map[string]string](t, resp)["error"]; msg != "reset token is invalid or expired" {
		t.Fatalf("second redemption error = %q", msg)
	}

	resp = api.post("/auth/login", map[string]string{"email": "reset@example.com", "password": "An0therSecret"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login with new password status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPIResetTokenFromCookie(t *testing.T) {
	svc, _ := newTestService(t)
	api, err := New(svc, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := svc.Register(context.Background(), "cookie@example.com", testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := svc.RequestPasswordReset(context.Background(), "cookie@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/reset_password", strings.NewReader(`{"new_password":"C00kieSecret"}`))
	req.AddCookie(&http.Cookie{Name: resetCookie, Value: token})
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	cleared := cookieNamed(&http.Response{Header: rr.Header()}, resetCookie)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("reset cookie not cleared: %+v", cleared)
	}
}

func TestAPICredentialCookieAttributes(t *testing.T) {
	svc, _ := newTestService(t)
	api, err := New(svc, Options{Cookies: DefaultCookies()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body := `{"email":"cookie@example.com","password":"` + testPassword + `"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}

	resp := &http.Response{Header: rr.Header()}
	for name, maxAge := range map[string]int{accessCookie: 7 * 24 * 3600, refreshCookie: 30 * 24 * 3600} {
		c := cookieNamed(resp, name)
		if c == nil {
			t.Fatalf("cookie %s missing", name)
		}
		if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteNoneMode || c.Path != "/" {
			t.Fatalf("cookie %s attributes: %+v", name, c)
		}
		if c.MaxAge != maxAge {
			t.Fatalf("cookie %s max-age = %d, want %d", name, c.MaxAge, maxAge)
		}
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rr = httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rr.Code)
	}
	resp = &http.Response{Header: rr.Header()}
	for _, name := range []string{accessCookie, refreshCookie} {
		c := cookieNamed(resp, name)
		if c == nil || c.MaxAge >= 0 || !c.Secure || !c.HttpOnly || c.SameSite != http.SameSiteNoneMode {
			t.Fatalf("cookie %s not cleared with matching attributes: %+v", name, c)
		}
	}
}

func TestAPIAdminPurgeRequiresPermission(t *testing.T) {
	api := newTestAPI(t, nil)
	api.register("ops@example.com")

	resp := api.post("/admin/sessions/purge", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("purge without permission status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	identity, err := api.store.Identities(context.Background()).FindByEmail(context.Background(), "ops@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	api.store.DefineRole("admin", PermSessionsPurge)
	if err := api.store.AssignRole(identity.ID, "admin"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	resp = api.post("/auth/login", map[string]string{"email": "ops@example.com", "password": testPassword}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/admin/sessions/purge", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("purge status = %d", resp.StatusCode)
	}
	if got := decode[map[string]int64](t, resp)["purged"]; got != 0 {
		t.Fatalf("purged = %d", got)
	}

	anon, err := http.Post(api.baseURL+"/admin/sessions/purge", "application/json", nil)
	if err != nil {
		t.Fatalf("anonymous purge: %v", err)
	}
	defer anon.Body.Close()
	if anon.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous purge status = %d", anon.StatusCode)
	}
}

func TestAPIMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.get("/auth/login")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q", resp.Header.Get("Allow"))
	}
}

type failingReadiness struct{}

func (failingReadiness) Check(context.Context) error { return errors.New("db down") }

func TestAPIHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t, failingReadiness{})

	resp := api.get("/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["service"] != serviceName || body["version"] != "test" {
		t.Fatalf("healthz body = %v", body)
	}

	resp = api.get("/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["status"] != "not_ready" || body["error"] != "" {
		t.Fatalf("readyz body = %v", body)
	}

	resp = api.get("/nope")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{auth.ErrDuplicateEmail, http.StatusBadRequest},
		{auth.ErrPasswordReuse, http.StatusBadRequest},
		{auth.ErrTokenExpired, http.StatusBadRequest},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{errors.Join(auth.ErrUnauthenticated, auth.ErrTokenExpired), http.StatusUnauthorized},
		{auth.ErrIdentityNotFound, http.StatusNotFound},
		{auth.ErrStorage, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
