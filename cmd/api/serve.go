package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pitchai/api/internal/app"
	"pitchai/api/internal/archive"
	"pitchai/api/internal/config"
	"pitchai/api/internal/generator"
	"pitchai/api/internal/idp"
	"pitchai/api/internal/search"
	"pitchai/api/internal/session"
	"pitchai/api/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	migrations, err := store.Migrations(cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	searchService, closeSearch := newSearchService(cfg, dataStore)
	defer closeSearch()

	webhook := generator.NewWebhook(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout)
	identity := idp.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	if cfg.JWTSecret == "" && !identity.Configured() {
		log.Printf("WARNING: neither SUPABASE_JWT_SECRET nor SUPABASE_URL/SUPABASE_ANON_KEY is set; every request will be rejected")
	}

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for revoked sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, webhook, identity, searchService)
	} else {
		log.Printf("Using PostgreSQL for revoked sessions")
		service = app.New(cfg, dataStore, webhook, identity, searchService)
		go pruneRevokedSessions(ctx, dataStore)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := archive.New(ctx, archive.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: object storage unavailable, sharing disabled: %v", err)
		} else {
			service.WithArchive(objects)
		}
	}

	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigins)
	// Writes must outlast the generation webhook.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.WebhookTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("PitchAI API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

func newSearchService(cfg config.Config, dataStore *store.PostgresStore) (*search.Service, func()) {
	pg := search.NewPgSearch(dataStore)
	if strings.TrimSpace(cfg.MeiliURL) == "" {
		return search.NewService(nil, pg), func() {}
	}
	meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	return search.NewService(meiliClient, pg), meiliClient.Close
}

func pruneRevokedSessions(ctx context.Context, dataStore *store.PostgresStore) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := dataStore.PruneRevokedSessions(ctx); err != nil {
				log.Printf("prune revoked sessions: %v", err)
			} else if n > 0 {
				log.Printf("pruned %d revoked sessions", n)
			}
		}
	}
}
