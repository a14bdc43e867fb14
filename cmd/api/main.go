package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"corkboard/api/internal/app"
	"corkboard/api/internal/config"
	"corkboard/api/internal/index"
	"corkboard/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	// Shared cache tier is optional; the in-process tier always runs.
	var rdb *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis url invalid: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("WARNING: redis unreachable, cache degrades to local tier: %v", err)
		}
		cancel()
		log.Printf("Using Redis as shared index cache tier")
	}

	slugs := index.New("slug", cfg.SlugCacheTTL, func(ctx context.Context, _ string, key string) (string, bool, error) {
		return dataStore.LookupSlugIndex(ctx, key)
	}, rdb)
	titles := index.New("title", cfg.TitleCacheTTL, func(ctx context.Context, scope, key string) (string, bool, error) {
		return dataStore.LookupTitleIndex(ctx, scope, key)
	}, rdb)

	service := app.New(cfg, dataStore, slugs, titles, rdb)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Corkboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
