package dynds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Option configures Open and OpenRouter.
type Option func(*connectOptions)

type connectOptions struct {
	pgxConfigModifier func(name string, cfg *pgxpool.Config)
	holder            *Holder
	logger            *slog.Logger
}

// disabledHealthCheckPeriod stands in for "off": pgxpool always starts its
// health check ticker and panics on a non-positive period.
const disabledHealthCheckPeriod = time.Duration(math.MaxInt64)

// newPoolWithConfig is a package-private seam used by tests to force
// deterministic pool-construction failures without network dependencies.
var newPoolWithConfig = pgxpool.NewWithConfig

// WithPgxConfig allows low-level pgxpool configuration per data source.
//
// The modifier runs after the DataSourceConfig settings are applied.
func WithPgxConfig(fn func(name string, cfg *pgxpool.Config)) Option {
	return func(o *connectOptions) {
		o.pgxConfigModifier = fn
	}
}

// WithRouterHolder sets the Holder an OpenRouter Router peeks.
func WithRouterHolder(h *Holder) Option {
	return func(o *connectOptions) {
		o.holder = h
	}
}

// WithRouterLogger sets the logger for OpenRouter and the Router it builds.
func WithRouterLogger(l *slog.Logger) Option {
	return func(o *connectOptions) {
		o.logger = l
	}
}

func collectOptions(opts []Option) connectOptions {
	var o connectOptions
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&o)
	}
	return o
}

// Open creates the pgx pool for one data source and verifies it with a ping.
// Errors never contain the connection string.
func Open(ctx context.Context, name string, cfg DataSourceConfig, opts ...Option) (*Pool, error) {
	return open(ctx, name, cfg, collectOptions(opts))
}

func open(ctx context.Context, name string, cfg DataSourceConfig, o connectOptions) (*Pool, error) {
	if name == "" {
		return nil, errors.New("dynds: data source name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("dynds: data source %q: URL is required", name)
	}

	pgxCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		// SECURITY: parse errors from upstream may contain DSN content.
		return nil, fmt.Errorf("dynds: data source %q: invalid connection string (expected a postgres URL or keyword/value DSN)", name)
	}

	if !cfg.AllowInsecure {
		if pgxCfg.ConnConfig.TLSConfig == nil {
			return nil, fmt.Errorf(
				"dynds: data source %q: insecure connection rejected. "+
					"Connection string must include sslmode=require (or stricter), "+
					"or set allow_insecure for local development", name)
		}
		for _, fb := range pgxCfg.ConnConfig.Fallbacks {
			if fb.TLSConfig == nil {
				return nil, fmt.Errorf(
					"dynds: data source %q: insecure connection rejected. "+
						"sslmode=allow/prefer is not permitted (plaintext fallback)", name)
			}
		}
	}

	applyPoolSettings(pgxCfg, cfg)

	if o.pgxConfigModifier != nil {
		o.pgxConfigModifier(name, pgxCfg)
	}

	host := pgxCfg.ConnConfig.Host
	pool, err := newPoolWithConfig(ctx, pgxCfg)
	if err != nil {
		// SECURITY: cause may include sensitive details; keep outer error safe.
		return nil, &SafeError{
			msg:   fmt.Sprintf("dynds: data source %q: failed to create pool (host=%s)", name, host),
			cause: err,
		}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &SafeError{
			msg:   fmt.Sprintf("dynds: data source %q: initial ping failed (host=%s)", name, host),
			cause: err,
		}
	}

	return &Pool{name: name, pool: pool}, nil
}

func applyPoolSettings(pgxCfg *pgxpool.Config, cfg DataSourceConfig) {
	if cfg.SimpleProtocol {
		pgxCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		pgxCfg.ConnConfig.StatementCacheCapacity = 0
		pgxCfg.ConnConfig.DescriptionCacheCapacity = 0
	}

	pgxCfg.MaxConns = DefaultMaxConns
	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	}
	pgxCfg.MinConns = cfg.MinConns

	switch {
	case cfg.HealthChecksDisabled:
		pgxCfg.HealthCheckPeriod = disabledHealthCheckPeriod
	case cfg.HealthCheckPeriod > 0:
		pgxCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	default:
		pgxCfg.HealthCheckPeriod = DefaultHealthCheckPeriod
	}

	pgxCfg.MaxConnLifetime = DefaultMaxConnLifetime
	if cfg.MaxConnLifetime > 0 {
		pgxCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pgxCfg.MaxConnIdleTime = DefaultMaxConnIdleTime
	if cfg.MaxConnIdleTime > 0 {
		pgxCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pgxCfg.ConnConfig.ConnectTimeout = DefaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		pgxCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
}

// OpenRouter validates cfg, opens every data source and returns a Router
// over them. If any source fails to open, the ones already opened are closed.
func OpenRouter(ctx context.Context, cfg Config, opts ...Option) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := collectOptions(opts)
	sources := make(map[string]DB, len(cfg.DataSources))
	for _, name := range cfg.Names() {
		p, err := open(ctx, name, cfg.DataSources[name], o)
		if err != nil {
			for _, db := range sources {
				db.Close()
			}
			return nil, err
		}
		sources[name] = p
		if o.logger != nil {
			o.logger.InfoContext(ctx, "dynds: data source opened", "datasource", name)
		}
	}

	rOpts := []RouterOption{WithStrict(cfg.Strict)}
	if o.holder != nil {
		rOpts = append(rOpts, WithStackHolder(o.holder))
	}
	if o.logger != nil {
		rOpts = append(rOpts, WithRouteLogger(o.logger))
	}
	r, err := NewRouter(cfg.Primary, sources, rOpts...)
	if err != nil {
		for _, db := range sources {
			db.Close()
		}
		return nil, err
	}
	return r, nil
}
