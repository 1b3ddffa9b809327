package dynds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RouterOption configures NewRouter.
type RouterOption func(*Router)

// WithStrict makes unknown keys an error instead of a fallback to the
// primary data source.
func WithStrict(strict bool) RouterOption {
	return func(r *Router) {
		r.strict = strict
	}
}

// WithStackHolder sets the Holder the Router peeks. It must be the Holder
// the Interceptors push onto.
func WithStackHolder(h *Holder) RouterOption {
	return func(r *Router) {
		if h != nil {
			r.holder = h
		}
	}
}

// WithRouteLogger sets the logger used for fallback warnings.
func WithRouteLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// Router is a DB that forwards every call to the data source selected by the
// key active in the call's context.
//
// Selection order: no key or the empty key picks the primary; a key naming a
// data source picks it; a key naming a group picks a member round-robin.
// Anything else falls back to the primary, or fails when the Router is
// strict.
type Router struct {
	primary string
	sources map[string]DB
	groups  map[string]*group
	strict  bool
	holder  *Holder
	logger  *slog.Logger
}

var _ DB = (*Router)(nil)

type group struct {
	members []string
	next    atomic.Uint64
}

func (g *group) pick() string {
	n := g.next.Add(1) - 1
	return g.members[n%uint64(len(g.members))]
}

// NewRouter returns a Router over sources. Data sources named prefix_suffix
// are also reachable through the group key prefix.
func NewRouter(primary string, sources map[string]DB, opts ...RouterOption) (*Router, error) {
	if len(sources) == 0 {
		return nil, errors.New("dynds: router requires at least one data source")
	}
	for name, db := range sources {
		if db == nil {
			return nil, fmt.Errorf("dynds: data source %q is nil", name)
		}
	}
	if _, ok := sources[primary]; !ok {
		return nil, fmt.Errorf("dynds: primary %q is not a configured data source", primary)
	}

	r := &Router{
		primary: primary,
		sources: make(map[string]DB, len(sources)),
		groups:  make(map[string]*group),
		holder:  defaultHolder,
		logger:  slog.New(slog.DiscardHandler),
	}
	for name, db := range sources {
		r.sources[name] = db
	}

	for _, name := range r.Names() {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok || prefix == "" {
			continue
		}
		g, ok := r.groups[prefix]
		if !ok {
			g = &group{}
			r.groups[prefix] = g
		}
		g.members = append(g.members, name)
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r, nil
}

// Primary returns the name of the primary data source.
func (r *Router) Primary() string {
	return r.primary
}

// Names returns the data source names in sorted order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DataSource returns the data source registered under name.
func (r *Router) DataSource(name string) (DB, bool) {
	db, ok := r.sources[name]
	return db, ok
}

// Current returns the name and DB selected by the key active in ctx.
func (r *Router) Current(ctx context.Context) (string, DB, error) {
	key, ok := r.holder.Peek(ctx)
	if !ok || key == "" {
		return r.primary, r.sources[r.primary], nil
	}
	if db, ok := r.sources[key]; ok {
		return key, db, nil
	}
	if g, ok := r.groups[key]; ok {
		name := g.pick()
		return name, r.sources[name], nil
	}
	if r.strict {
		return "", nil, &UnknownDataSourceError{Key: key}
	}
	r.logger.WarnContext(ctx, "dynds: unknown data source, using primary",
		"key", key,
		"primary", r.primary,
	)
	return r.primary, r.sources[r.primary], nil
}

func (r *Router) current(ctx context.Context) (DB, error) {
	_, db, err := r.Current(ctx)
	return db, err
}

func (r *Router) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db, err := r.current(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return db.Exec(ctx, sql, args...)
}

func (r *Router) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	db, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	return db.Query(ctx, sql, args...)
}

func (r *Router) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db, err := r.current(ctx)
	if err != nil {
		return &ErrRow{Err: err}
	}
	return db.QueryRow(ctx, sql, args...)
}

func (r *Router) Begin(ctx context.Context) (pgx.Tx, error) {
	db, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	return db.Begin(ctx)
}

func (r *Router) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	db, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	return db.BeginTx(ctx, txOptions)
}

// Ping pings the data source selected by ctx. Use HealthCheck to ping all of
// them.
func (r *Router) Ping(ctx context.Context) error {
	db, err := r.current(ctx)
	if err != nil {
		return err
	}
	return db.Ping(ctx)
}

// Close closes every data source.
func (r *Router) Close() {
	for _, name := range r.Names() {
		r.sources[name].Close()
	}
}
