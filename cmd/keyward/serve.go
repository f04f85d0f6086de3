// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/web"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the keyward HTTP API",
		Long: `Start the HTTP API (register, login, logout, me) together with the
metrics/health server and the expired-session purger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs keyward until ctx is cancelled or a server fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "keyward",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})
	if cfg.Server.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("starting keyward",
		"addr", cfg.Server.Addr,
		"store_backend", cfg.Store.Backend,
		"session_backend", cfg.Session.Backend,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stores, err := openBackends(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	var obsServer ObservabilityServer
	serviceOpts := []auth.ServiceOption{auth.WithLogger(logger)}
	sessionOpts := []auth.SessionOption{
		auth.WithMaxLifetime(cfg.Session.MaxLifetime),
		auth.WithUserResolver(stores.users),
		auth.WithSessionLogger(logger),
	}
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, stores.Ready)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("server", "observability").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, logger, obsErrCh, "observability")
		serviceOpts = append(serviceOpts, auth.WithRecorder(obsServer.Metrics()))
		sessionOpts = append(sessionOpts, auth.WithSessionRecorder(obsServer.Metrics()))
	}

	hasher := auth.NewArgon2idHasher(
		auth.WithArgon2Params(cfg.argon2Params()),
		auth.WithMaxConcurrent(cfg.Hash.MaxConcurrent),
	)
	svc, err := auth.NewAuthService(stores.users, hasher, serviceOpts...)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}
	sessions, err := auth.NewSessionManager(stores.sessions, sessionOpts...)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}
	waitPurger := sessions.StartPurger(ctx, cfg.Session.PurgeInterval)

	router, err := web.NewRouter(web.Config{
		CookieName:   cfg.Server.CookieName,
		CookieSecure: cfg.Server.CookieSecure,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Production:   cfg.Server.Production,
	}, web.Deps{
		Registrar: svc,
		Verifier:  svc,
		Sessions:  sessions,
		Logger:    logger,
	})
	if err != nil {
		cancel()
		waitPurger()
		stopObservability(obsServer, logger)
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		cancel()
		waitPurger()
		stopObservability(obsServer, logger)
		return oops.Code("SERVE_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}

	apiServer := web.NewServer(cfg.Server.Addr, router)
	apiErrCh := make(chan error, 1)
	go func() {
		defer close(apiErrCh)
		if serveErr := apiServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrCh <- serveErr
		}
	}()

	cmd.Println("keyward started")
	logger.Info("keyward ready", "addr", listener.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr := <-apiErrCh:
		runErr = oops.Code("SERVE_FAILED").With("server", "api").Wrap(serveErr)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping API server", "error", err)
	}
	waitPurger()
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return runErr
}

func stopObservability(server ObservabilityServer, logger *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels the run when a background server fails.
// It exits when an error arrives, the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
