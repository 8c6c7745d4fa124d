// Package app wires the browserjam server runtime: config, logging, storage,
// HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"browserjam/cmd/identity"
	authapi "browserjam/cmd/internal/auth/api"
	"browserjam/cmd/internal/realtime"
	sessionapi "browserjam/cmd/internal/session/api"
	"browserjam/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the server runtime: it owns storage, the HTTP handler tree and the
// realtime broker.
type App struct {
	cfg Config
	log Logger

	backend  *backend
	registry *prometheus.Registry
	tokens   *token.Manager

	broker   *realtime.Broker
	ws       *realtime.WSGateway
	auth     *authapi.Handler
	sessions *sessionapi.Handler

	handler http.Handler
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := newTokenManager(log)
	if err != nil {
		return nil, err
	}
	hasher, err := newPasswordHasher()
	if err != nil {
		return nil, err
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, log, be, tokens, hasher)
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	return a, nil
}

func wire(cfg Config, log Logger, be *backend, tokens *token.Manager, hasher *identity.PasswordHasher) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := realtime.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	users := identity.NewService(log, be.users, hasher)

	broker := realtime.NewBroker(log, be.store, tokens,
		realtime.WithMetrics(metrics),
		realtime.WithUserDirectory(users),
	)
	ws, err := realtime.NewWSGateway(log, broker, realtime.GatewayConfigFromEnv())
	if err != nil {
		return nil, err
	}

	auth, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), users, tokens)
	if err != nil {
		return nil, err
	}
	sessions, err := sessionapi.NewHandler(log, be.store, tokens)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		backend:  be,
		registry: reg,
		tokens:   tokens,
		broker:   broker,
		ws:       ws,
		auth:     auth,
		sessions: sessions,
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux)
	a.handler = WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log)
	return a, nil
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler { return a.handler }

// Close releases storage.
func (a *App) Close() error { return a.backend.Close() }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "backend", a.backend.kind)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
