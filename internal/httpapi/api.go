// Package httpapi exposes the admin backend over HTTP: two
// authentication strategies (bearer token and session cookie), guarded
// RBAC and application routes, and the usual health endpoints.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"metasaas.org/internal/audit"
	"metasaas.org/internal/auth"
	"metasaas.org/internal/obs"
	"metasaas.org/internal/session"
	"metasaas.org/internal/tenant"
)

// ReadyProbe checks the readiness dependencies.
type ReadyProbe struct {
	DB   *sql.DB
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Ping != nil {
		return rp.Ping(ctx)
	}
	return nil
}

// Config carries the HTTP layer's knobs.
type Config struct {
	Version       string
	Production    bool
	SessionCookie string
	LoginBurst    int
	LoginPerMin   int
}

// API is the HTTP layer. All domain logic lives in the injected
// services; handlers translate requests, run guards and map errors.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe

	auth     *auth.Service
	rbac     *auth.RBACService
	tenants  *tenant.Service
	sessions session.Store
	recorder *audit.Recorder
	auditLog audit.Store

	cfg Config
}

// New wires the routes. Any service may be nil; its routes then answer
// 503, which keeps partial deployments diagnosable.
func New(rp ReadyProbe, authSvc *auth.Service, rbacSvc *auth.RBACService, tenantSvc *tenant.Service,
	sessions session.Store, recorder *audit.Recorder, auditLog audit.Store, cfg Config) *API {
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "sessionId"
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = 10
	}
	if cfg.LoginPerMin <= 0 {
		cfg.LoginPerMin = 30
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		auth:       authSvc,
		rbac:       rbacSvc,
		tenants:    tenantSvc,
		sessions:   sessions,
		recorder:   recorder,
		auditLog:   auditLog,
		cfg:        cfg,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/v1/auth/login", a.loginLimiter()(http.HandlerFunc(a.handleLogin)))
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/auth/password/forgot", a.handlePasswordForgot)
	a.mux.HandleFunc("/v1/auth/password/reset", a.handlePasswordReset)

	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/permissions/", a.handlePermissionResource)

	a.mux.HandleFunc("/v1/applications", a.handleApplications)
	a.mux.HandleFunc("/v1/applications/", a.handleApplicationResource)

	a.mux.HandleFunc("/v1/audit", a.handleAuditList)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) loginLimiter() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RateLimit(next, a.cfg.LoginBurst, float64(a.cfg.LoginPerMin)/60.0)
	}
}

// --- health / info ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "metasaas-admin",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "metasaas-admin",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}
