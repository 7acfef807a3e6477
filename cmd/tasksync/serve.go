package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hiroki-koketsu/go-tasksync/internal/config"
	"github.com/hiroki-koketsu/go-tasksync/internal/handler"
	"github.com/hiroki-koketsu/go-tasksync/internal/notify"
	"github.com/hiroki-koketsu/go-tasksync/internal/session"
	"github.com/hiroki-koketsu/go-tasksync/internal/store"
	"github.com/hiroki-koketsu/go-tasksync/internal/store/memory"
	"github.com/hiroki-koketsu/go-tasksync/internal/store/redisstore"
	"github.com/hiroki-koketsu/go-tasksync/internal/store/sqlstore"
	"github.com/hiroki-koketsu/go-tasksync/internal/tasksync"
	"github.com/hiroki-koketsu/go-tasksync/internal/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sync loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("TASKSYNC_TOKEN")
			}
			return serve(cmd.Context(), cfg, token)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Sign-in token restored at startup (default $TASKSYNC_TOKEN)")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, token string) error {
	// Basic logger for startup, before OTel is initialized
	startupLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	startupLogger.Info("starting application",
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("store", cfg.Store.Backend),
		slog.Bool("otel", cfg.OTelEnabled),
	)

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Environment:  cfg.Environment,
	}, cfg.OTelEnabled)
	if err != nil {
		startupLogger.Error("failed to initialize telemetry", slog.Any("error", err))
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			startupLogger.Error("failed to shutdown telemetry", slog.Any("error", err))
		}
	}()
	logger := providers.Logger

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.ErrorContext(ctx, "failed to open store", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", slog.Any("error", err))
		}
	}()

	provider := session.NewProvider()
	verifier := session.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	feed := notify.NewFeed(logger, cfg.Notify.History)

	svc := tasksync.New(st, provider, feed,
		tasksync.WithCollection(cfg.Store.Collection),
		tasksync.WithLogger(logger),
		tasksync.WithMetrics(providers.Metrics),
	)

	h := handler.New(svc, provider, verifier, feed, logger, providers.Metrics)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CleanPath)

	// Health check endpoint (excluded from tracing)
	r.Get("/health", h.Health)
	r.Mount("/api/v1", h.Routes())

	otelHandler := otelhttp.NewHandler(r, "http-server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	)

	server := newServer(":"+cfg.ServerPort, otelHandler)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Run(gctx)
	})

	g.Go(func() error {
		logger.InfoContext(gctx, "server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", slog.Any("error", err))
		}
		svc.Close()
		return nil
	})

	restoreSession(gctx, logger, provider, verifier, token)

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// newServer builds the HTTP server. Request contexts derive from a base
// context that is cancelled as soon as Shutdown starts, so open event streams
// return and their connections can drain within the shutdown timeout.
func newServer(addr string, h http.Handler) *http.Server {
	base, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return base },
	}
	server.RegisterOnShutdown(cancel)
	return server
}

// openStore builds the configured document store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		s, err := sqlstore.Open(sqlstore.Config{Path: cfg.Store.SQLitePath, Debug: cfg.Store.Debug})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		opts, err := cfg.RedisOptions()
		if err != nil {
			return nil, err
		}
		s, err := redisstore.Dial(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return memory.New(), nil
	}
}

// restoreSession settles the identity provider: with the persisted token's
// user when it still verifies, signed out otherwise.
func restoreSession(ctx context.Context, logger *slog.Logger, provider *session.Provider, verifier *session.TokenVerifier, token string) {
	if token == "" {
		provider.Resolve(nil)
		return
	}
	id, err := verifier.Verify(token)
	if err != nil {
		logger.WarnContext(ctx, "stored session rejected", slog.Any("error", err))
		provider.Resolve(nil)
		return
	}
	logger.InfoContext(ctx, "session restored", slog.String("user_id", id.UserID))
	provider.Resolve(&id)
}
