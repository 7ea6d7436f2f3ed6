package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/grandcat/zeroconf"

	"radiocatalog/stationstore/internal/auth"
	"radiocatalog/stationstore/internal/blob"
	"radiocatalog/stationstore/internal/config"
	"radiocatalog/stationstore/internal/invalidate"
	"radiocatalog/stationstore/internal/recordstore"
	"radiocatalog/stationstore/internal/snapshot"
	"radiocatalog/stationstore/internal/stations"
)

// App wires together the station store services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	tier    blob.Tier
	reader  *snapshot.Reader
	store   *recordstore.Store
	service *stations.Service
	auth    *auth.Middleware
	hub     *invalidate.Hub
	hubErr  <-chan error
	mdns    *zeroconf.Server

	closers []func() error
	ready   atomic.Bool
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Service returns the station service. Valid after Init.
func (a *App) Service() *stations.Service {
	return a.service
}

// Snapshot returns the snapshot reader. Valid after Init.
func (a *App) Snapshot() *snapshot.Reader {
	return a.reader
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Close()

	httpErrCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.cfg.MDNS {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	hubErrCh := a.hubErr
	for {
		select {
		case <-ctx.Done():
			a.ready.Store(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			a.logger.Info("http server stopped")
			return nil
		case err := <-httpErrCh:
			if err != nil {
				return err
			}
		case err, ok := <-hubErrCh:
			if !ok {
				hubErrCh = nil
				continue
			}
			if err != nil {
				_ = httpServer.Shutdown(context.Background())
				return err
			}
		}
	}
}

// Close releases the hub, notifier connections and the blob tier.
func (a *App) Close() error {
	a.ready.Store(false)
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
