package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	_ "time/tzdata"

	"github.com/jw6ventures/timetable/internal/auth"
	"github.com/jw6ventures/timetable/internal/config"
	httpserver "github.com/jw6ventures/timetable/internal/http"
	"github.com/jw6ventures/timetable/internal/http/ratelimit"
	"github.com/jw6ventures/timetable/internal/store"
	"github.com/jw6ventures/timetable/internal/timetable"
	"github.com/jw6ventures/timetable/internal/untis"
	"github.com/jw6ventures/timetable/internal/vault"
)

func main() {
	log.Println("Starting timetable server...")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stor *store.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Printf("[WARN] using in-memory store; snapshots are lost on restart")
		stor, _ = store.NewMemory()
	default:
		pool, err := pgxpool.New(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatalf("failed to create db pool: %v", err)
		}
		defer pool.Close()

		if err := store.ApplyMigrations(ctx, pool); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		stor = store.New(pool)
	}

	keys, err := vault.ParseKeys(cfg.CredentialKeys)
	if err != nil {
		log.Fatalf("failed to parse credential keys: %v", err)
	}
	credentialVault, err := vault.New(keys)
	if err != nil {
		log.Fatalf("failed to initialize credential vault: %v", err)
	}
	for _, key := range keys {
		vault.Zero(key)
	}

	untisClient := untis.New(untis.Options{
		ClientName: cfg.Untis.ClientName,
		RPS:        cfg.Sync.UntisRPS,
		Burst:      cfg.Sync.UntisBurst,
		Location:   cfg.Location,
	})

	engine := timetable.New(stor, credentialVault, timetable.NewDialer(untisClient), timetable.Config{
		TTL:           cfg.Sync.CacheTTL,
		PrefetchDelay: cfg.Sync.PrefetchDelay,
		PruneInterval: cfg.Sync.PruneInterval,
		PruneMaxAge:   cfg.Sync.PruneMaxAge,
		PruneHistory:  cfg.Sync.PruneHistory,
		Location:      cfg.Location,
		School:        cfg.Untis.School,
		Host:          cfg.Untis.Host,
	})
	go engine.Pruner().Start(ctx)

	verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID)
	if err != nil {
		log.Fatalf("failed to initialize auth: %v", err)
	}
	authService := auth.NewService(verifier, stor.Users)

	limiter := ratelimit.New(rate.Limit(cfg.Sync.APIRPS), cfg.Sync.APIBurst, 5*time.Minute, cfg.TrustedProxies, httpserver.RequesterKey)
	defer limiter.Close()

	r := httpserver.NewRouter(cfg, stor, authService, engine, limiter)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	engine.Close()
}
