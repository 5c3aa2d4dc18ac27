package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gyaneshwarpardhi/syncagent/internal/actor"
	"github.com/gyaneshwarpardhi/syncagent/internal/api"
	"github.com/gyaneshwarpardhi/syncagent/internal/compute"
	"github.com/gyaneshwarpardhi/syncagent/internal/config"
	"github.com/gyaneshwarpardhi/syncagent/internal/engine"
	"github.com/gyaneshwarpardhi/syncagent/internal/event"
	"github.com/gyaneshwarpardhi/syncagent/internal/platform/otel"
	"github.com/gyaneshwarpardhi/syncagent/internal/state"
	"github.com/gyaneshwarpardhi/syncagent/internal/syncagent"
)

func serve(ctx context.Context, opts options) error {
	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	addr := cfg.Server.Addr
	if opts.addr != "" {
		addr = opts.addr
	}

	// ── Logging ──────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	setLevel(level, cfg.Log.Level, opts.debug)
	slog.SetDefault(slog.New(newHandler(os.Stdout, cfg.Log.Format, level)))

	events := event.NewSource(nil, event.Host{Service: cfg.Service.Name, Node: cfg.Service.Node})

	// ── Tracing ──────────────────────────────────────────────────────────────
	shutdownTracing, err := otel.Setup(ctx, cfg.Service.Name, cfg.Service.Node, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		events.HostInitializationFailed(err)
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown failed", "err", err)
		}
	}()

	// ── State store ──────────────────────────────────────────────────────────
	store, err := openStore(cfg.Store)
	if err != nil {
		events.HostInitializationFailed(err)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing state store", "err", err)
		}
	}()

	// ── Actor registry ───────────────────────────────────────────────────────
	connector := compute.NewConnector(compute.WithTimeout(millis(cfg.Compute.RequestTimeoutMs)))
	reg := actor.NewRegistry()
	syncagent.Register(reg, syncagent.Deps{
		Store:        store,
		Connector:    connector,
		Events:       events,
		HostTemplate: cfg.Compute.HostTemplate,
	})

	// ── Engine ───────────────────────────────────────────────────────────────
	engCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(engCtx, reg, events, cfg.Engine)
	events.Message("actor host started", "actor_types", reg.Types(), "service", cfg.Service.Name, "node", cfg.Service.Node)

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.AgentConfig) {
		setLevel(level, newCfg.Log.Level, opts.debug)
		connector.SetTimeout(millis(newCfg.Compute.RequestTimeoutMs))
		eng.SetConf(newCfg.Engine)
		slog.Info("config hot-reloaded", "version", newCfg.Version)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.New(syncagent.NewProxy(eng), eng, loader),
		ReadTimeout:  millis(cfg.Server.ReadTimeoutMs),
		WriteTimeout: millis(cfg.Server.WriteTimeoutMs),
		IdleTimeout:  millis(cfg.Server.IdleTimeoutMs),
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			events.HostInitializationFailed(err)
			eng.Shutdown()
			return fmt.Errorf("http server: %w", err)
		}
	}
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	eng.Shutdown() // drain mailboxes, deactivate actors
	cancel()
	slog.Info("goodbye")
	return nil
}

func openStore(conf config.StoreConf) (state.Store, error) {
	switch conf.Driver {
	case "memory":
		slog.Warn("using in-memory state store; actor state will not survive restarts")
		return state.NewMemoryStore(), nil
	default:
		st, err := state.OpenSQLite(conf.Path)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		return st, nil
	}
}

func newHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func setLevel(lv *slog.LevelVar, raw string, debug bool) {
	if debug {
		lv.Set(slog.LevelDebug)
		return
	}
	level, err := config.ParseLevel(raw)
	if err != nil {
		slog.Warn("invalid log level, keeping current", "level", raw, "err", err)
		return
	}
	lv.Set(level)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
