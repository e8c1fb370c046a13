package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"metasaas.org/internal/audit"
	"metasaas.org/internal/auth"
	"metasaas.org/internal/config"
	"metasaas.org/internal/httpapi"
	"metasaas.org/internal/mail"
	"metasaas.org/internal/obs"
	"metasaas.org/internal/session"
	"metasaas.org/internal/tenant"
)

var version = "0.3.0"

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("METASAAS_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	secret := cfg.JWTSecret
	if secret == "" {
		// Development fallback; Load rejects this in production.
		secret = "metasaas-dev-secret"
	}
	issuer, err := auth.NewTokenIssuer(secret, cfg.JWTIssuer, cfg.AccessTTL)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	var store auth.Store
	var authAuditStore audit.Store
	var tenantStore tenant.Store
	if db != nil {
		pg := auth.NewPGStore(db)
		store = pg
		authAuditStore = audit.NewPGStore(db)
		tenantStore = tenant.NewPGStore(db)
	} else {
		// Without Postgres everything lives in process memory. Useful
		// for local development, useless for real deployments.
		log.Println("METASAAS_PG_DSN not set, using in-memory stores")
		store = auth.NewInMemory()
		tenantStore = tenant.NewInMemory()
	}
	recorder := audit.NewRecorder(authAuditStore)

	mailer := buildMailer(cfg)

	authSvc, err := auth.NewService(store, issuer,
		auth.WithHasher(auth.NewHasher(cfg.BcryptCost)),
		auth.WithLockoutPolicy(auth.LockoutPolicy{
			Threshold: cfg.LockoutThreshold,
			Duration:  cfg.LockoutDuration,
		}),
		auth.WithAuditor(recorder),
		auth.WithMailer(mailer),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithResetTTL(cfg.ResetTokenTTL),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	rbacSvc, err := auth.NewRBACService(store.Roles(), store.Permissions())
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 30*time.Second)
	if err := rbacSvc.EnsureSeed(seedCtx); err != nil {
		cancelSeed()
		log.Fatalf("rbac seed: %v", err)
	}
	cancelSeed()

	sessions, err := session.NewRedisStore(rdb, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}

	tenantSvc, err := tenant.NewService(tenantStore, recorder)
	if err != nil {
		log.Fatalf("tenant service: %v", err)
	}

	api := httpapi.New(
		httpapi.ReadyProbe{DB: db, Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
		authSvc, rbacSvc, tenantSvc, sessions, recorder, authAuditStore,
		httpapi.Config{
			Version:       version,
			Production:    cfg.Production(),
			SessionCookie: cfg.SessionCookie,
			LoginBurst:    cfg.LoginRateBurst,
			LoginPerMin:   cfg.LoginRatePerSecond * 60,
		},
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting metasaas-admin %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = rdb.Close()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func buildMailer(cfg config.Config) mail.Mailer {
	if cfg.SMTPAddr == "" {
		return mail.LogMailer{}
	}
	host, portStr, err := net.SplitHostPort(cfg.SMTPAddr)
	if err != nil {
		log.Fatalf("smtp addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Fatalf("smtp port: %v", err)
	}
	m, err := mail.NewSMTPMailer(host, port, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	if err != nil {
		log.Fatalf("smtp mailer: %v", err)
	}
	return m
}
