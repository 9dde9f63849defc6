package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rendis/carepath/internal/expressions"
	"github.com/rendis/carepath/internal/graph"
	"github.com/rendis/carepath/internal/journey"
	"github.com/rendis/carepath/internal/logging"
	"github.com/rendis/carepath/internal/scheduler"
	"github.com/rendis/carepath/internal/store"
	"github.com/rendis/carepath/internal/validation"
	mcpserver "github.com/rendis/carepath/pkg/mcp"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db-path", "", "database path (overrides config)")
	noScheduler := fs.Bool("no-scheduler", false, "do not run scheduled reports")
	if err := fs.Parse(args); err != nil {
		return err
	}

	overrides := serveOverrides{dbPath: *dbPath, noScheduler: *noScheduler}
	cfg := overrides.apply(loadConfig())
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	policy, _ := cfg.edgePolicy()
	interval, _ := cfg.schedulerInterval()

	// stdout carries the MCP protocol; logs go to stderr.
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLeveledLogger(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, policy)
	if err != nil {
		return err
	}
	defer st.Close()

	engines, err := expressions.NewRegistry()
	if err != nil {
		return fmt.Errorf("expression engines: %w", err)
	}
	validator, err := validation.NewGraphValidator(policy == graph.EdgePolicyStrict)
	if err != nil {
		return fmt.Errorf("graph validator: %w", err)
	}

	finder := journey.NewFinder(st, logger)
	notifier := mcpserver.NewMCPNotifier()
	sched := scheduler.NewScheduler(st, finder, engines, logger,
		scheduler.WithInterval(interval),
		scheduler.WithNotifier(notifier),
	)

	srv := mcpserver.NewCarepathServer(mcpserver.CarepathServerDeps{
		Finder:    finder,
		Store:     st,
		Engines:   engines,
		Validator: validator,
		Scheduler: sched,
		Logger:    logger,
		Version:   version,
	})
	notifier.Attach(srv.MCPServer())

	if cfg.Scheduler {
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed schedule recovery failed", slog.String("error", err.Error()))
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	if err := writePIDFile(); err != nil {
		logger.Warn("cannot write pid file", slog.String("error", err.Error()))
	} else {
		defer os.Remove(pidPath())
	}
	go watchReload(ctx, cfg, func() Config { return overrides.apply(loadConfig()) }, level, logger)

	logger.Info("carepath serving on stdio",
		slog.String("version", version),
		slog.String("db_path", cfg.DBPath),
		slog.String("edge_policy", string(policy)),
		slog.Bool("scheduler", cfg.Scheduler),
	)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStore opens the configured database and applies pending migrations.
func openStore(ctx context.Context, cfg Config, policy graph.EdgePolicy) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(dirOf(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.dsn(), store.WithEdgePolicy(policy))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// serveOverrides holds the serve flags that take precedence over settings.
type serveOverrides struct {
	dbPath      string
	noScheduler bool
}

func (o serveOverrides) apply(cfg Config) Config {
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.noScheduler {
		cfg.Scheduler = false
	}
	return cfg
}

// watchReload re-reads the configuration through load on SIGHUP.
func watchReload(ctx context.Context, current Config, load func() Config, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		current = applyReload(current, load(), level, logger)
	}
}

// applyReload applies the live-reloadable part of next and returns the new
// running configuration. Only the log level changes live; anything else is
// reported as needing a restart and keeps its running value.
func applyReload(current, next Config, level *slog.LevelVar, logger *slog.Logger) Config {
	d := diffConfigs(current, next)
	if d.LogLevelChanged {
		level.Set(logging.ParseLevel(next.LogLevel))
		logger.Info("log level changed", slog.String("log_level", next.LogLevel))
	}
	if len(d.RestartNeeded) > 0 {
		logger.Warn("configuration changes need a restart", slog.Any("fields", d.RestartNeeded))
	}
	current.LogLevel = next.LogLevel
	return current
}

func writePIDFile() error {
	if err := os.MkdirAll(carepathDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
