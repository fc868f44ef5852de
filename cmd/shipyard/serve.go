package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rendis/shipyard/internal/api"
	"github.com/rendis/shipyard/internal/backend"
	"github.com/rendis/shipyard/internal/logging"
	"github.com/rendis/shipyard/internal/monitor"
	"github.com/rendis/shipyard/internal/scheduler"
	"github.com/rendis/shipyard/internal/session"
	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/internal/streaming"
	"github.com/rendis/shipyard/internal/validation"
)

// swapHandler lets a reload replace the mux without restarting the listener.
type swapHandler struct {
	h atomic.Pointer[http.Handler]
}

func newSwapHandler(h http.Handler) *swapHandler {
	s := &swapHandler{}
	s.Swap(h)
	return s
}

func (s *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.h.Load()).ServeHTTP(w, r)
}

func (s *swapHandler) Swap(h http.Handler) { s.h.Store(&h) }

// openStore opens and migrates the libSQL database, creating its directory.
func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// newBackend builds the deployment service client behind a circuit breaker.
func newBackend(cfg Config) (backend.Client, error) {
	c, err := backend.NewHTTPClient(backend.HTTPConfig{BaseURL: cfg.BackendURL, Token: cfg.BackendToken})
	if err != nil {
		return nil, err
	}
	return backend.NewBreaker(c, backend.DefaultBreakerConfig()), nil
}

// server bundles the long-lived pieces that a reload may touch.
type server struct {
	cfg       Config
	level     *slog.LevelVar
	logger    *slog.Logger
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	backend   backend.Client
	linter    *validation.Linter
	sessions  *session.Manager
	scheduler *scheduler.Scheduler
	handler   *swapHandler
}

func runServe(cfg Config) error {
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.New(os.Stderr, level, cfg.LogJSON)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := newBackend(cfg)
	if err != nil {
		return err
	}
	linter, err := validation.NewLinter(cfg.Policies...)
	if err != nil {
		return err
	}

	srv := &server{
		cfg:     cfg,
		level:   level,
		logger:  logger,
		store:   st,
		hub:     streaming.NewMemoryHub(),
		backend: client,
		linter:  linter,
	}
	srv.sessions = session.NewManager(session.Deps{
		Backend: client,
		Store:   st,
		Events:  store.NewEventLog(st),
		Hub:     srv.hub,
		Linter:  linter,
		Logger:  logger,
		Monitor: monitor.Config{PollInterval: cfg.pollInterval()},
	})
	defer srv.sessions.Close()

	if cfg.Scheduler {
		if err := srv.startScheduler(ctx); err != nil {
			return err
		}
	}
	defer srv.stopScheduler()

	srv.handler = newSwapHandler(srv.mux())
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		logger.Warn("cannot write pidfile", slog.String("error", err.Error()))
	}
	defer os.Remove(pidPath())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("shipyard listening", slog.String("addr", cfg.ListenAddr), slog.String("backend", cfg.BackendURL))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case err, ok := <-errCh:
			if ok {
				return err
			}
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				srv.reload(ctx, loadConfig())
				continue
			}
			logger.Info("shutting down", slog.String("signal", sig.String()))
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			err := httpSrv.Shutdown(shutdownCtx)
			stop()
			return err
		}
	}
}

func (s *server) mux() http.Handler {
	return api.NewServer(api.Deps{
		Sessions:  s.sessions,
		Store:     s.store,
		Events:    store.NewEventLog(s.store),
		Hub:       s.hub,
		Linter:    s.linter,
		Scheduler: s.scheduler,
		Logger:    s.logger,
	}).Handler()
}

func (s *server) startScheduler(ctx context.Context) error {
	s.scheduler = scheduler.NewScheduler(s.store, s.backend, scheduler.Options{
		Interval: s.cfg.schedulerInterval(),
		Logger:   s.logger,
	})
	if err := s.scheduler.RecoverMissed(ctx); err != nil {
		s.logger.Warn("missed job recovery failed", slog.String("error", err.Error()))
	}
	return s.scheduler.Start(ctx)
}

func (s *server) stopScheduler() {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Stop(); err != nil {
		s.logger.Warn("scheduler stop failed", slog.String("error", err.Error()))
	}
	s.scheduler = nil
}

// reload applies what can change at runtime and reports the rest.
func (s *server) reload(ctx context.Context, next Config) {
	d := diffConfigs(s.cfg, next)

	if d.LogLevelChanged {
		s.level.Set(logging.ParseLevel(next.LogLevel))
		s.logger.Info("log level changed", slog.String("level", next.LogLevel))
	}

	if d.SchedulerChanged {
		s.stopScheduler()
		s.cfg.Scheduler = next.Scheduler
		s.cfg.SchedulerInterval = next.SchedulerInterval
		if next.Scheduler {
			if err := s.startScheduler(ctx); err != nil {
				s.logger.Error("scheduler start failed", slog.String("error", err.Error()))
				s.scheduler = nil
			}
		}
		s.handler.Swap(s.mux())
		s.logger.Info("scheduler toggled", slog.Bool("enabled", s.scheduler != nil))
	}

	if len(d.RestartNeeded) > 0 {
		s.logger.Warn("configuration changes need a restart", slog.Any("fields", d.RestartNeeded))
	}
	s.cfg.LogLevel = next.LogLevel
}
