package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/shipyard/internal/logging"
	"github.com/rendis/shipyard/internal/monitor"
	"github.com/rendis/shipyard/internal/session"
	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/internal/streaming"
	"github.com/rendis/shipyard/internal/validation"
	shipyardmcp "github.com/rendis/shipyard/pkg/mcp"
)

// runMCP serves the MCP tools on stdio. With -api the HTTP API runs in the
// same process and shares the event hub, so watch_task sees live monitor
// transitions of sessions driven over HTTP.
func runMCP(args []string, cfg Config) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	withAPI := fs.Bool("api", false, "also serve the HTTP API on listen_addr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// stdout carries the protocol; logs go to stderr.
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.New(os.Stderr, level, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	linter, err := validation.NewLinter(cfg.Policies...)
	if err != nil {
		return err
	}
	hub := streaming.NewMemoryHub()

	if *withAPI {
		client, err := newBackend(cfg)
		if err != nil {
			return err
		}
		srv := &server{cfg: cfg, level: level, logger: logger, store: st, hub: hub, backend: client, linter: linter}
		srv.sessions = session.NewManager(session.Deps{
			Backend: client,
			Store:   st,
			Events:  store.NewEventLog(st),
			Hub:     hub,
			Linter:  linter,
			Logger:  logger,
			Monitor: monitor.Config{PollInterval: cfg.pollInterval()},
		})
		defer srv.sessions.Close()

		httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.mux(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("shipyard API listening", slog.String("addr", cfg.ListenAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", slog.String("error", err.Error()))
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	err = shipyardmcp.NewShipyardServer(shipyardmcp.ShipyardServerDeps{
		Linter: linter,
		Store:  st,
		Hub:    hub,
		Logger: logger,
	}).Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
