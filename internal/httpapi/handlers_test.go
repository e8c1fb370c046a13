package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/bcrypt"

	"metasaas.org/internal/audit"
	"metasaas.org/internal/auth"
	"metasaas.org/internal/session"
	"metasaas.org/internal/tenant"
)

// memAuditStore collects entries for assertions and backs the audit
// listing endpoint in tests.
type memAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *memAuditStore) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memAuditStore) List(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if f.PrincipalID != "" && e.PrincipalID != f.PrincipalID {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *memAuditStore) count(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type testMailer struct {
	mu     sync.Mutex
	to     []string
	bodies []string
}

func (m *testMailer) Send(_ context.Context, to, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, to)
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *testMailer) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.to)
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	svc      *auth.Service
	store    *auth.InMemory
	mailer   *testMailer
	auditLog *memAuditStore
}

func newTestAPI(t *testing.T, opts ...func(*Config)) *apiClient {
	t.Helper()

	store := auth.NewInMemory()
	issuer, err := auth.NewTokenIssuer("test-secret-0123456789", "metasaas", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	auditLog := &memAuditStore{}
	recorder := audit.NewRecorder(auditLog)
	mailer := &testMailer{}
	svc, err := auth.NewService(store, issuer,
		auth.WithHasher(auth.NewHasher(bcrypt.MinCost)),
		auth.WithAuditor(recorder),
		auth.WithMailer(mailer),
	)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}

	rbac, err := auth.NewRBACService(store.Roles(), store.Permissions())
	if err != nil {
		t.Fatalf("rbac service: %v", err)
	}
	if err := rbac.EnsureSeed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	sessions, err := session.NewRedisStore(rdb, 30*time.Minute)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}

	tenants, err := tenant.NewService(tenant.NewInMemory(), recorder)
	if err != nil {
		t.Fatalf("tenant service: %v", err)
	}

	cfg := Config{Version: "test", LoginBurst: 100, LoginPerMin: 6000}
	for _, opt := range opts {
		opt(&cfg)
	}
	api := New(ReadyProbe{}, svc, rbac, tenants, sessions, recorder, auditLog, cfg)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		svc:      svc,
		store:    store,
		mailer:   mailer,
		auditLog: auditLog,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u := path
	if params != nil {
		u += "?" + params.Encode()
	}
	return c.do(http.MethodGet, u, nil, headers)
}

// seedUser creates a principal directly, bypassing the public register
// route so tests can mint admin and superadmin accounts.
func (c *apiClient) seedUser(name, email, password string, role auth.Role) *auth.Principal {
	c.t.Helper()
	p, err := c.svc.Register(context.Background(), auth.RegisterInput{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     role,
	}, auth.RequestMeta{})
	if err != nil {
		c.t.Fatalf("seed user %s: %v", email, err)
	}
	return p
}

func (c *apiClient) login(email, password string) (authResponse, *http.Response) {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{"email": email, "password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: unexpected status %d", email, resp.StatusCode)
	}
	payload := decode[authResponse](c.t, resp)
	if payload.Tokens.AccessToken == "" {
		c.t.Fatalf("login %s: empty access token", email)
	}
	return payload, resp
}

func (c *apiClient) bearer(email, password string) map[string]string {
	c.t.Helper()
	payload, _ := c.login(email, password)
	return map[string]string{"Authorization": "Bearer " + payload.Tokens.AccessToken}
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, ck := range resp.Cookies() {
		if ck.Name == "sessionId" {
			return ck
		}
	}
	return nil
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

func TestHealthzAndInfo(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	payload := decode[map[string]any](t, resp)
	if payload["status"] != "ok" {
		t.Fatalf("healthz status = %v", payload["status"])
	}

	resp = api.get("/v1/info", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info: %d", resp.StatusCode)
	}
	info := decode[map[string]any](t, resp)
	if info["version"] != "test" {
		t.Fatalf("info version = %v", info["version"])
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/nope", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/roles", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/healthz", nil, nil)
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
	if got := resp.Header.Get("X-Request-Id"); got == "" {
		t.Fatalf("missing X-Request-Id header")
	}
}

func TestRequestIDIsPreserved(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/healthz", nil, map[string]string{"X-Request-Id": "req-42"})
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("X-Request-Id = %q, want req-42", got)
	}
}
