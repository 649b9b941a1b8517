package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"postfeed/internal/cache"
	"postfeed/internal/changefeed"
	"postfeed/internal/config"
	"postfeed/internal/database"
	"postfeed/internal/feed"
	"postfeed/internal/handlers"
	"postfeed/internal/identity"
	"postfeed/internal/middleware"
	"postfeed/internal/router"
	"postfeed/internal/session"
	"postfeed/internal/storage"
	"postfeed/internal/store"
)

const (
	// maxFailedSignIns is how many wrong passwords an address gets per
	// throttle window before sign-in is refused.
	maxFailedSignIns = 10

	janitorInterval = 5 * time.Minute
	shutdownTimeout = 30 * time.Second
)

// withDB loads configuration, connects to PostgreSQL and runs fn.
func withDB(fn func(*sql.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	db, err := database.Connect(cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	slog.Info("configuration loaded", "env", cfg.Env, "addr", cfg.Addr())

	db, err := database.Connect(cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return err
	}
	if cfg.SeedDemo {
		if err := database.Seed(db); err != nil {
			return err
		}
	}

	valkeyClient, err := cache.ConnectValkey(cfg.ValkeyAddr(), cfg.ValkeyPassword)
	if err != nil {
		return err
	}
	defer valkeyClient.Close()

	// Session cookies are Secure everywhere except local development.
	sessions := session.NewStore(valkeyClient, !cfg.IsDev())
	throttle := cache.NewThrottle(valkeyClient, maxFailedSignIns, cache.DefaultThrottleWindow)

	userStore := store.NewUserStore(db)
	postStore := store.NewPostStore(db)
	accounts := identity.NewAccounts(userStore, sessions, throttle)

	// Object storage is optional; without it posts are saved without images.
	var blobs feed.BlobStore
	if cfg.StorageEnabled() {
		client, err := storage.New(cfg.S3Endpoint, cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicURL)
		if err != nil {
			return err
		}
		if client != nil {
			blobs = client
			slog.Info("s3 storage connected", "endpoint", cfg.S3Endpoint, "bucket", client.Bucket())
		}
	} else {
		slog.Warn("s3 storage not configured, image uploads disabled")
	}

	hub := changefeed.NewHub()
	defer hub.Close()
	listener := changefeed.NewListener(cfg.DSN(), cfg.ChangeChannel, hub)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("change listener stopped", "error", err)
		}
	}()

	registry := feed.NewRegistry(func(sessionID string) *feed.Controller {
		return feed.NewController(accounts.Session(sessionID), postStore, blobs, hub)
	})
	go registry.RunJanitor(ctx, janitorInterval)

	authLimiter := middleware.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)
	defer authLimiter.Stop()

	r := router.New(sessions,
		handlers.NewAuth(accounts, sessions, registry),
		handlers.NewFeed(registry),
		authLimiter,
	)

	// WriteTimeout must fit an image upload on a slow link; websocket
	// connections clear their deadlines on upgrade.
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutdown signal received")

	// Close live feeds first: hijacked websocket connections are not
	// drained by Shutdown.
	registry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
