package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/jw6ventures/calstore/internal/auth"
	"github.com/jw6ventures/calstore/internal/config"
	"github.com/jw6ventures/calstore/internal/dav"
	httpserver "github.com/jw6ventures/calstore/internal/http"
	"github.com/jw6ventures/calstore/internal/objects"
	"github.com/jw6ventures/calstore/internal/schedule"
	"github.com/jw6ventures/calstore/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.LogLevel,
		TimeFormat: time.RFC3339,
	})))
	slog.Info("starting calstore server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		slog.Error("failed to create db pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := store.ApplyMigrations(ctx, pool, slog.Default().With("component", "migrations"))
	if err != nil {
		slog.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("schema ready", "applied", len(applied))

	stor := store.New(pool)
	authService := auth.NewService(stor.Users, stor.AppPasswords)

	var notifier schedule.Notifier = schedule.Nop{}
	if cfg.SchedulingEnabled {
		notifier = schedule.LogNotifier{Logger: slog.Default().With("component", "schedule")}
	}
	objectService := objects.NewService(stor.CalendarObjects, stor.Cards, notifier, cfg.DAV.ProductID, slog.Default().With("component", "objects"))
	objectService.AttachmentHref = dav.AttachmentHref(cfg.BaseURL)
	davHandler := dav.NewHandler(cfg, objectService, slog.Default().With("component", "dav"))

	r, stopLimiters := httpserver.NewRouter(cfg, stor, authService.RequireDAVAuth, davHandler)
	defer stopLimiters()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
