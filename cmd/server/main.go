package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yangwenmai/infographer/internal/api"
	"github.com/yangwenmai/infographer/internal/config"
	"github.com/yangwenmai/infographer/internal/credential"
	"github.com/yangwenmai/infographer/internal/dispatcher"
	"github.com/yangwenmai/infographer/internal/fanout"
	"github.com/yangwenmai/infographer/internal/generator"
	"github.com/yangwenmai/infographer/internal/identity"
	"github.com/yangwenmai/infographer/internal/model"
	"github.com/yangwenmai/infographer/internal/store"
	"github.com/yangwenmai/infographer/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg))

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	resolver := identity.New(cfg.Platform())
	hub := fanout.NewHub(resolver)

	// Credential holder: the sealed file when configured, else the store.
	var creds store.CredentialStore
	if cfg.RequireCredential {
		creds = backend
		if cfg.CredentialFile != "" {
			creds = credential.NewFileHolder(cfg.CredentialFile)
			go func() {
				err := credential.Watch(ctx, cfg.CredentialFile, func() {
					hub.Broadcast(model.Event{Type: model.EventReconcile})
				})
				if err != nil {
					slog.Error("credential watcher stopped", "error", err)
				}
			}()
		}
	} else {
		slog.Warn("running without credentials")
	}

	gen := newGenerator(cfg)

	opts := []dispatcher.Option{dispatcher.WithPresence(hub)}
	if creds != nil {
		opts = append(opts, dispatcher.WithCredentials(creds))
	}
	d := dispatcher.New(resolver, backend, gen, hub, opts...)

	// Fail RUNNING records left by a previous process. A shared store may
	// hold runs owned by another live instance, so it is left alone.
	if store.Shared(backend) {
		slog.Info("skipping stale run recovery on shared store", "store", storeKind(cfg.StoreDSN))
	} else if n, err := d.RecoverStale(ctx); err != nil {
		slog.Warn("recover stale runs", "error", err)
	} else if n > 0 {
		slog.Info("failed stale RUNNING records", "count", n)
	}

	runner := worker.New()
	go worker.Every(ctx, "presence-prune", time.Minute, func(context.Context) {
		if n := hub.Prune(cfg.PresenceTTL); n > 0 {
			slog.Debug("pruned presence", "count", n)
		}
	})

	srv := api.New(api.Deps{
		Dispatcher:  d,
		Statuses:    backend,
		Credentials: creds,
		Resolver:    resolver,
		Hub:         hub,
		Runner:      runner,
	}, api.Options{
		CORSOrigin:    cfg.CORSOrigin,
		SessionBuffer: cfg.SessionBuffer,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("infographer server listening", "addr", "http://localhost:"+cfg.Port,
			"store", storeKind(cfg.StoreDSN), "generator", cfg.Generator)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down", "in_flight", runner.InFlight())
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		slog.Warn("generations still running at exit", "error", err)
	}
	return nil
}

func newGenerator(cfg config.Config) generator.Generator {
	if cfg.Generator == "stub" {
		slog.Info("using stub generator")
		return &generator.Stub{Delay: 2 * time.Second}
	}
	slog.Info("using remote generator", "url", cfg.GeneratorURL, "timeout", cfg.GenerateTimeout.String())
	return generator.NewHTTPGenerator(cfg.GeneratorURL, generator.WithTimeout(cfg.GenerateTimeout))
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// storeKind reports the DSN scheme without credentials.
func storeKind(dsn string) string {
	if i := strings.Index(dsn, "://"); i > 0 {
		return dsn[:i]
	}
	return "sqlite"
}
