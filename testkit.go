package dynds

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotMocked is returned when a TestDB method is called without a
// corresponding Func field set.
var ErrNotMocked = errors.New("dynds.TestDB: method not mocked, set the corresponding Func field")

// TestDB is an in-memory DB for unit tests. Every call is recorded, so a
// test can assert which data source a Router picked.
type TestDB struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTxFunc  func(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	PingFunc     func(ctx context.Context) error

	mu     sync.Mutex
	calls  []string
	closed bool
}

var _ DB = (*TestDB)(nil)

func (t *TestDB) record(call string) {
	t.mu.Lock()
	t.calls = append(t.calls, call)
	t.mu.Unlock()
}

// Calls returns the method names invoked so far, in order. SQL-bearing
// methods are recorded as "Method: sql".
func (t *TestDB) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// Closed reports whether Close was called.
func (t *TestDB) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *TestDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.record("Exec: " + sql)
	if t.ExecFunc != nil {
		return t.ExecFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, ErrNotMocked
}

func (t *TestDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.record("Query: " + sql)
	if t.QueryFunc != nil {
		return t.QueryFunc(ctx, sql, args...)
	}
	return nil, ErrNotMocked
}

func (t *TestDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.record("QueryRow: " + sql)
	if t.QueryRowFunc != nil {
		return t.QueryRowFunc(ctx, sql, args...)
	}
	return &ErrRow{Err: ErrNotMocked}
}

// Begin delegates to BeginTxFunc with default options.
func (t *TestDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.BeginTx(ctx, pgx.TxOptions{})
}

func (t *TestDB) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	t.record("BeginTx")
	if t.BeginTxFunc != nil {
		return t.BeginTxFunc(ctx, txOptions)
	}
	return nil, ErrNotMocked
}

// Ping succeeds unless PingFunc says otherwise.
func (t *TestDB) Ping(ctx context.Context) error {
	t.record("Ping")
	if t.PingFunc != nil {
		return t.PingFunc(ctx)
	}
	return nil
}

func (t *TestDB) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// ErrRow implements pgx.Row. Its Scan always returns Err.
type ErrRow struct {
	Err error
}

func (r *ErrRow) Scan(dest ...any) error {
	return r.Err
}

// NewRow returns a pgx.Row backed by the provided values.
func NewRow(values ...any) pgx.Row {
	return &valueRow{values: values}
}

type valueRow struct {
	values []any
}

func (r *valueRow) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("dynds.valueRow: scan dest count %d != column count %d", len(dest), len(r.values))
	}
	for i, val := range r.values {
		if err := assignScanValue(i, dest[i], val); err != nil {
			return err
		}
	}
	return nil
}

func assignScanValue(idx int, dest any, val any) error {
	switch d := dest.(type) {
	case *string:
		v, ok := val.(string)
		if !ok {
			return fmt.Errorf("dynds.valueRow: expected string at column %d, got %T", idx, val)
		}
		*d = v
	case *int:
		v, ok := val.(int)
		if !ok {
			return fmt.Errorf("dynds.valueRow: expected int at column %d, got %T", idx, val)
		}
		*d = v
	case *int64:
		v, ok := val.(int64)
		if !ok {
			return fmt.Errorf("dynds.valueRow: expected int64 at column %d, got %T", idx, val)
		}
		*d = v
	case *bool:
		v, ok := val.(bool)
		if !ok {
			return fmt.Errorf("dynds.valueRow: expected bool at column %d, got %T", idx, val)
		}
		*d = v
	case *any:
		*d = val
	default:
		return fmt.Errorf("dynds.valueRow: unsupported scan target type %T at column %d", dest, idx)
	}
	return nil
}
