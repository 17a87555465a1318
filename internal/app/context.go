// Package app wires configuration, storage, publishers and the engine
// into one runtime for the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/engine"
	"gigline/internal/events"
	"gigline/internal/migrate"
	"gigline/internal/observability"
)

type Options struct {
	Workspace  string
	ConfigPath string
	// Driver and DSN override the config file when set.
	Driver string
	DSN    string
	Logger *slog.Logger
}

type Runtime struct {
	Engine  engine.Engine
	Config  *config.Config
	DB      *sql.DB
	Dialect db.Dialect
	Logger  *slog.Logger

	redis  *redis.Client
	relay  *events.RedisPublisher
	cancel context.CancelFunc
}

// LoadConfig reads an explicit config file, else the workspace's
// gigline.yml, else the defaults.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open connects storage, applies migrations and starts any configured
// event relays. Close releases all of it.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.Database.DSN = opts.DSN
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialect, err := db.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: dialect, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	metrics, err := observability.NewAllocation(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Logger = logger
	e.Metrics = metrics

	rt := &Runtime{Engine: e, Config: cfg, DB: conn, Dialect: dialect, Logger: logger}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt.cancel = cancel

	publishers := events.Fanout{e.Events}
	if rc := cfg.Events.Redis; strings.TrimSpace(rc.Addr) != "" {
		rt.redis = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		rt.relay = events.NewRedisPublisher(rt.redis,
			events.WithChannel(rc.Channel),
			events.WithQueueSize(rc.QueueSize),
			events.WithLogger(logger.With("component", "events.redis")),
		)
		go rt.relay.Run(runCtx)
		publishers = append(publishers, rt.relay)
		logger.Debug("publishing events to redis", "addr", rc.Addr, "channel", rt.relay.Channel())
	}
	rt.Engine.Events = publishers
	return rt, nil
}

func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	var errs []error
	if r.relay != nil {
		r.relay.Close()
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger: text for terminals, JSON otherwise.
func NewLogger(level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
