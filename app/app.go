// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires configuration, destinations, the dispatcher and delivery
// history into the HTTP host.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/soothill/alert-destinations/config"
	"github.com/soothill/alert-destinations/destination"
	"github.com/soothill/alert-destinations/dispatch"
	"github.com/soothill/alert-destinations/pkg/interfaces"
	"github.com/soothill/alert-destinations/pkg/logger"
	"github.com/soothill/alert-destinations/storage"
)

const (
	signalChannelSize     = 1
	readinessCheckTimeout = 2 * time.Second
	shutdownTimeout       = 5 * time.Second
	flushTimeout          = 10 * time.Second
	readHeaderTimeout     = 5 * time.Second
)

// App represents the main application
type App struct {
	cfg           *config.Config
	configPath    string
	registry      *destination.Registry
	history       interfaces.DeliveryHistory
	dispatcher    *dispatch.Dispatcher
	mu            sync.RWMutex
	server        *http.Server
	validate      *validator.Validate
	configWatcher *config.Watcher
	startedAt     time.Time
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Option configures an App.
type Option func(*App)

// WithRegistry replaces the built-in destination registry.
func WithRegistry(r *destination.Registry) Option {
	return func(a *App) {
		a.registry = r
	}
}

// WithHistory uses h as the delivery history store instead of connecting to
// the configured InfluxDB.
func WithHistory(h interfaces.DeliveryHistory) Option {
	return func(a *App) {
		a.history = h
	}
}

// New creates a new application instance. configPath may be empty, in which
// case the configuration is never reloaded.
func New(cfg *config.Config, configPath string, opts ...Option) (*App, error) {
	app := &App{
		cfg:        cfg,
		configPath: configPath,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		startedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.registry == nil {
		app.registry = destination.DefaultRegistry()
	}

	if app.history == nil && cfg.History.Enabled() {
		influx := cfg.History.InfluxDB
		history, err := storage.NewInfluxDBHistory(influx.URL, influx.Token, influx.Organization, influx.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize delivery history: %w", err)
		}
		app.history = history
	}

	dispatcher, err := app.buildDispatcher(cfg)
	if err != nil {
		app.closeHistory()
		return nil, fmt.Errorf("failed to configure destinations: %w", err)
	}
	app.dispatcher = dispatcher

	if configPath != "" {
		app.configWatcher, err = config.NewWatcher(configPath)
		if err != nil {
			app.closeHistory()
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
	}

	app.server = &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           app.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return app, nil
}

// buildDispatcher resolves the configured destination instances
func (a *App) buildDispatcher(cfg *config.Config) (*dispatch.Dispatcher, error) {
	opts := []dispatch.Option{
		dispatch.WithConcurrency(cfg.Server.MaxConcurrentDeliveries),
		dispatch.WithCircuitBreaker(cfg.CircuitBreaker),
	}
	if a.history != nil {
		opts = append(opts, dispatch.WithHistory(a.history))
	}
	return dispatch.New(a.registry, cfg.Destinations, opts...)
}

// Dispatcher returns the dispatcher built from the current configuration.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dispatcher
}

// Handler returns the HTTP handler serving the API, health and metrics endpoints.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run starts the application and blocks until shutdown
func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.ctx = ctx
	a.cancel = cancel
	defer a.cancel()

	a.startServer()
	a.setupSignalHandler()
	a.startConfigWatcher()

	<-ctx.Done()
	a.performCleanup()
}

// startServer starts the HTTP server for the API, metrics and health checks
func (a *App) startServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting alert destination host")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server failed")
			a.cancel()
		}
	}()
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			a.performGracefulShutdown()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown stops the application as if an interrupt had been received
func (a *App) Shutdown() {
	a.performGracefulShutdown()
}

// startConfigWatcher applies every successfully reloaded configuration
func (a *App) startConfigWatcher() {
	if a.configWatcher == nil {
		return
	}
	a.configWatcher.Start(a.ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case reloaded := <-a.configWatcher.Reloaded:
				if reloaded.Error != nil {
					logger.Error().Err(reloaded.Error).Msg("Error reloading configuration")
					continue
				}
				if err := a.UpdateConfig(reloaded.Config); err != nil {
					logger.Error().Err(err).Msg("Reloaded configuration rejected, keeping previous destinations")
				}
			}
		}
	}()
}

// UpdateConfig rebuilds the dispatcher from cfg and swaps it in. Listen
// address and history settings only take effect on restart.
func (a *App) UpdateConfig(cfg *config.Config) error {
	dispatcher, err := a.buildDispatcher(cfg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	old := a.cfg
	a.cfg = cfg
	a.dispatcher = dispatcher
	a.mu.Unlock()

	if old.Logging != cfg.Logging {
		logger.Configure(cfg.Logging.Level, cfg.Logging.Format)
	}
	if old.Server.ListenAddress != cfg.Server.ListenAddress {
		logger.Warn().Str("listen_address", cfg.Server.ListenAddress).
			Msg("Listen address changed, restart to apply")
	}
	if old.History != cfg.History {
		logger.Warn().Msg("History settings changed, restart to apply")
	}
	logger.Info().Int("destinations", len(cfg.Destinations)).Msg("Application configuration updated")
	return nil
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	dispatcher := a.Dispatcher()
	targets := dispatcher.Targets()
	logger.Info().
		Int("destinations", len(targets)).
		Strs("types", a.registry.Types()).
		Bool("history_enabled", a.history != nil).
		Dur("uptime", time.Since(a.startedAt)).
		Msg("Dispatcher state")

	breakers := dispatcher.BreakerStates()
	for _, t := range targets {
		event := logger.Info().Str("destination", t.Name).Str("type", t.Type)
		if state, ok := breakers[t.Name]; ok {
			event = event.Str("breaker_state", state)
		}
		event.Msg("Configured destination")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024) // 1MB buffer
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}

// performGracefulShutdown stops accepting requests and ends Run
func (a *App) performGracefulShutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	if a.configWatcher != nil {
		a.configWatcher.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
}

// performCleanup flushes delivery history and waits for goroutines to finish
func (a *App) performCleanup() {
	if a.configWatcher != nil {
		a.configWatcher.Close()
	}
	if a.history != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
		defer flushCancel()

		flushDone := make(chan struct{})
		go func() {
			a.history.Close()
			close(flushDone)
		}()

		select {
		case <-flushDone:
			logger.Info().Msg("Delivery history flushed")
		case <-flushCtx.Done():
			logger.Warn().Msg("Delivery history flush timeout - some records may be lost")
		}
	}

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	logger.Info().Msg("All goroutines finished, exiting")
}

func (a *App) closeHistory() {
	if a.history != nil {
		a.history.Close()
	}
}
