// Package runtime adapts the daemon lifecycle pattern shared by the
// gateway, kiosk, and panel processes: a primary HTTP server, an
// optional Prometheus metrics server, graceful shutdown with a bounded
// timeout, and LIFO shutdown hooks for closing databases and hardware.
// TLS termination is out of scope (spec Non-goal) so the API server is
// always plain HTTP, left to a reverse proxy in front of it.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ShutdownHook runs during graceful shutdown, in LIFO registration order.
type ShutdownHook func(ctx context.Context) error

// Config describes the HTTP listeners a process runs.
type Config struct {
	ListenAddr      string
	Handler         http.Handler
	MetricsAddr     string // empty disables the metrics server
	MetricsHandler  http.Handler
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager runs a process's HTTP server(s) and coordinates shutdown.
type Manager struct {
	cfg           Config
	logger        zerolog.Logger
	apiServer     *http.Server
	metricsServer *http.Server

	mu    sync.Mutex
	hooks []namedHook
}

func NewManager(cfg Config) *Manager {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &Manager{cfg: cfg, logger: cfg.Logger}
}

// RegisterShutdownHook registers a cleanup function run during Shutdown,
// in reverse registration order.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

// Run starts the configured listeners and blocks until ctx is canceled
// or a listener fails, then shuts everything down gracefully.
func (m *Manager) Run(ctx context.Context) error {
	errChan := make(chan error, 2)

	m.apiServer = &http.Server{
		Addr:         m.cfg.ListenAddr,
		Handler:      m.cfg.Handler,
		ReadTimeout:  m.cfg.ReadTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		IdleTimeout:  m.cfg.IdleTimeout,
	}
	go func() {
		m.logger.Info().Str("addr", m.cfg.ListenAddr).Msg("api server listening")
		if err := m.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Msg("api server failed")
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()

	if m.cfg.MetricsAddr != "" {
		m.metricsServer = &http.Server{
			Addr:    m.cfg.MetricsAddr,
			Handler: m.cfg.MetricsHandler,
		}
		go func() {
			m.logger.Info().Str("addr", m.cfg.MetricsAddr).Msg("metrics server listening")
			if err := m.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error().Err(err).Msg("metrics server failed")
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case err := <-errChan:
		_ = m.Shutdown(context.Background())
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		return m.Shutdown(context.Background())
	}
}

// Shutdown stops every listener and runs shutdown hooks in LIFO order,
// collecting and returning any errors encountered.
func (m *Manager) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	if m.apiServer != nil {
		if err := m.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
	}
	if m.metricsServer != nil {
		if err := m.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	m.mu.Lock()
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(shutdownCtx); err != nil {
			m.logger.Error().Err(err).Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	m.logger.Info().Msg("shutdown complete")
	return nil
}
