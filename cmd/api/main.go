package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"texforge/internal/backend"
	"texforge/internal/config"
	"texforge/internal/diagnostics"
	"texforge/internal/httpapi"
	"texforge/internal/scheduler"
	"texforge/internal/webhook"
)

func main() {
	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		slog.Error("failed to load targets file", "path", cfg.TargetsFile, "error", err)
		os.Exit(1)
	}

	b, err := backend.New(cfg.Backend, backend.Config{
		LatexmkPath:    cfg.LatexmkPath,
		TectonicPath:   cfg.TectonicPath,
		CompileTimeout: cfg.CompileTimeout,
		KillGrace:      cfg.KillGrace,
	}, diagnostics.New(), slog.Default())
	if err != nil {
		slog.Error("failed to initialize backend", "error", err)
		os.Exit(1)
	}
	if !b.IsAvailable(context.Background()) {
		slog.Warn("build toolchain not found on PATH, compiles will fail until installed", "backend", b.Name())
	}

	store := scheduler.NewInMemoryStore()
	sched := scheduler.New(cfg.MaxConcurrent, b, store, slog.Default())

	sender := webhook.NewHTTPSender(cfg.WebhookTimeout, cfg.WebhookMaxRetries)
	streamer := httpapi.NewLogStreamer()
	notifier := httpapi.NewNotifier(sender, store, slog.Default())
	api := httpapi.NewServer(sched, store, b, streamer, notifier, targets, slog.Default())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.HTTPAddr, "backend", b.Name(), "max_concurrent", cfg.MaxConcurrent)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	// Settle every outstanding ticket before exit.
	if err := sched.Shutdown(ctx); err != nil {
		slog.Error("scheduler shutdown error", "error", err)
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "INFO", "info":
		return slog.LevelInfo
	case "WARN", "warning", "warn":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
