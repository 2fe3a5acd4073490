package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stocknest.org/internal/auth"
	"stocknest.org/internal/httpapi"
	"stocknest.org/internal/obs"
	"stocknest.org/internal/store/memory"
	"stocknest.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	accessSecret := os.Getenv("STOCKNEST_AUTH_SECRET")
	refreshSecret := os.Getenv("STOCKNEST_REFRESH_SECRET")
	if accessSecret == "" || refreshSecret == "" {
		log.Fatal("STOCKNEST_AUTH_SECRET and STOCKNEST_REFRESH_SECRET are required")
	}

	var tokenOpts []auth.TokenOption
	if issuer := os.Getenv("STOCKNEST_TOKEN_ISSUER"); issuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(issuer))
	}
	if ttl := envDuration("STOCKNEST_ACCESS_TTL"); ttl > 0 {
		tokenOpts = append(tokenOpts, auth.WithAccessTTL(ttl))
	}
	if ttl := envDuration("STOCKNEST_REFRESH_TTL"); ttl > 0 {
		tokenOpts = append(tokenOpts, auth.WithRefreshTTL(ttl))
	}
	tokens, err := auth.NewTokenService(accessSecret, refreshSecret, tokenOpts...)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	// Postgres when a DSN is configured; in-memory store for local runs.
	var (
		store   auth.Store
		probe   httpapi.ReadyProbe
		cleanup func()
	)
	if dsn := os.Getenv("STOCKNEST_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		cleanup = func() { _ = pgStore.Close() }
	} else {
		log.Print("STOCKNEST_PG_DSN not set, using in-memory store")
		store = memory.New()
		cleanup = func() {}
	}

	authSvc, err := auth.NewService(store, tokens)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	rbacSvc, err := auth.NewRBACService(store)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}

	seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := authSvc.EnsureCatalog(seedCtx); err != nil {
		cancel()
		log.Fatalf("seed permission catalog: %v", err)
	}
	cancel()

	cookies := httpapi.CookieSettings{
		Secure: os.Getenv("STOCKNEST_COOKIE_SECURE") == "true",
		Domain: os.Getenv("STOCKNEST_COOKIE_DOMAIN"),
	}

	api := httpapi.New(authSvc, rbacSvc, cookies, probe, version)

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.RateLimit(
						httpapi.MaxBodyBytes(api.Handler(), 1<<20),
						20, 10,
					),
				),
			),
		),
	)

	addr := os.Getenv("STOCKNEST_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting stocknest-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	_ = srv.Shutdown(ctx)
	cleanup()
	log.Println("Stopped")
}

func envDuration(name string) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return d
}
