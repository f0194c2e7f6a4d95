package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/crashlink"
	"github.com/giantswarm/crashlink/instrumentation"
	"github.com/giantswarm/crashlink/internal/envconfig"
	"github.com/giantswarm/crashlink/notify"
	"github.com/giantswarm/crashlink/storage"
	"github.com/giantswarm/crashlink/storage/memory"
	"github.com/giantswarm/crashlink/storage/sqlite"
	"github.com/giantswarm/crashlink/storage/valkey"
	"github.com/giantswarm/crashlink/tracker"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// managedStore is a storage backend owned by the serve command.
type managedStore interface {
	storage.Store
	SetLogger(logger *slog.Logger)
	SetInstrumentation(inst *instrumentation.Instrumentation)
	Close() error
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crashlink HTTP server",
		Long: `Run the crashlink HTTP server. Configuration is read from the
environment, see CRASHLINK_* and GITHUB_* variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envconfig.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, e, cmd.Root().Version, cmd.ErrOrStderr())
		},
	}
}

func serve(ctx context.Context, e *envconfig.Env, version string, logOutput io.Writer) error {
	logger, err := newLogger(e, logOutput)
	if err != nil {
		return err
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceVersion:  version,
		Enabled:         e.Metrics != "none" || e.OTELEndpoint != "",
		MetricsExporter: e.Metrics,
		TracesEndpoint:  e.OTELEndpoint,
		LogClientIPs:    e.LogClientIPs,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	store, err := openStore(e, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage", "error", err)
		}
	}()
	store.SetInstrumentation(inst)

	config, err := e.ServerConfig(logger)
	if err != nil {
		return err
	}

	provider, githubTracker, err := crashlink.NewGitHub(config)
	if err != nil {
		return err
	}
	var issueTracker tracker.Tracker
	if githubTracker != nil {
		issueTracker = githubTracker
	}

	server, err := crashlink.NewServer(provider, store, issueTracker, config)
	if err != nil {
		return err
	}
	server.SetInstrumentation(inst)

	if e.ChatWebhookURL != "" {
		webhook, err := notify.NewWebhook(notify.WebhookConfig{
			URL:    e.ChatWebhookURL,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("CRASHLINK_CHAT_WEBHOOK_URL: %w", err)
		}
		server.SetNotifier(webhook)
	}

	httpServer := &http.Server{
		Addr:              e.Addr,
		Handler:           crashlink.NewHandler(server, logger).Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go server.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("crashlink listening",
			"addr", e.Addr,
			"base_url", e.BaseURL,
			"storage", e.Storage,
			"version", version)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func newLogger(e *envconfig.Env, w io.Writer) (*slog.Logger, error) {
	level, err := e.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if e.LogFormat == envconfig.LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func openStore(e *envconfig.Env, logger *slog.Logger) (managedStore, error) {
	var store managedStore
	switch e.Storage {
	case envconfig.StorageMemory:
		store = memory.New()
	case envconfig.StorageSQLite:
		s, err := sqlite.Open(e.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		store = s
	case envconfig.StorageValkey:
		cfg := valkey.Config{
			Address:   e.ValkeyAddr,
			Password:  e.ValkeyPassword,
			DB:        e.ValkeyDB,
			KeyPrefix: e.ValkeyKeyPrefix,
			Logger:    logger,
		}
		if e.ValkeyTLS {
			cfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		s, err := valkey.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open valkey storage: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown storage backend %q", e.Storage)
	}
	store.SetLogger(logger)
	return store, nil
}
