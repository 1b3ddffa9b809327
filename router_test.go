package dynds

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	holder  *Holder
	router  *Router
	sources map[string]*TestDB
}

func newRouterFixture(t *testing.T, names []string, opts ...RouterOption) routerFixture {
	t.Helper()

	f := routerFixture{holder: NewHolder(), sources: make(map[string]*TestDB)}
	dbs := make(map[string]DB, len(names))
	for _, name := range names {
		name := name
		db := &TestDB{
			QueryRowFunc: func(context.Context, string, ...any) pgx.Row {
				return NewRow(name)
			},
		}
		f.sources[name] = db
		dbs[name] = db
	}

	r, err := NewRouter(names[0], dbs, append([]RouterOption{WithStackHolder(f.holder)}, opts...)...)
	require.NoError(t, err)
	f.router = r
	return f
}

func (f routerFixture) served(t *testing.T, ctx context.Context) string {
	t.Helper()

	var name string
	require.NoError(t, f.router.QueryRow(ctx, "SELECT current_database()").Scan(&name))
	return name
}

func TestRouter_NoKeyAndEmptyKeyUsePrimary(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, []string{"primary", "orders"})
	assert.Equal(t, "primary", f.served(t, context.Background()))

	ctx := f.holder.Push(context.Background(), "")
	assert.Equal(t, "primary", f.served(t, ctx))
}

func TestRouter_KeySelectsDataSource(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, []string{"primary", "orders", "users"})
	ctx := f.holder.Push(context.Background(), "orders")
	assert.Equal(t, "orders", f.served(t, ctx))

	f.holder.Push(ctx, "users")
	assert.Equal(t, "users", f.served(t, ctx))

	f.holder.Pop(ctx)
	assert.Equal(t, "orders", f.served(t, ctx))

	name, db, err := f.router.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orders", name)
	assert.Same(t, f.sources["orders"], db)
}

func TestRouter_GroupRoundRobin(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, []string{"primary", "replica_1", "replica_2", "replica_3"})
	ctx := f.holder.Push(context.Background(), "replica")

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, f.served(t, ctx))
	}
	assert.Equal(t, []string{"replica_1", "replica_2", "replica_3", "replica_1", "replica_2", "replica_3"}, got)

	f.holder.Push(ctx, "replica_2")
	assert.Equal(t, "replica_2", f.served(t, ctx), "exact name wins over group")
}

func TestRouter_UnknownKeyFallsBackWithWarning(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := newRouterFixture(t, []string{"primary", "orders"}, WithRouteLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	ctx := f.holder.Push(context.Background(), "archive")

	assert.Equal(t, "primary", f.served(t, ctx))
	assert.Contains(t, buf.String(), "unknown data source")
	assert.Contains(t, buf.String(), "key=archive")
}

func TestRouter_StrictRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, []string{"primary", "orders"}, WithStrict(true))
	ctx := f.holder.Push(context.Background(), "archive")

	var unknown *UnknownDataSourceError
	err := f.router.QueryRow(ctx, "SELECT 1").Scan(new(any))
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "archive", unknown.Key)
	assert.ErrorIs(t, err, ErrUnknownDataSource)

	_, err = f.router.Exec(ctx, "DELETE FROM orders")
	assert.ErrorIs(t, err, ErrUnknownDataSource)
	rows, err := f.router.Query(ctx, "SELECT 1")
	assert.Nil(t, rows)
	assert.ErrorIs(t, err, ErrUnknownDataSource)
	_, err = f.router.Begin(ctx)
	assert.ErrorIs(t, err, ErrUnknownDataSource)
	assert.ErrorIs(t, f.router.Ping(ctx), ErrUnknownDataSource)

	for _, db := range f.sources {
		assert.Empty(t, db.Calls())
	}
}

func TestRouter_ForwardsEveryMethod(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, []string{"primary", "orders"})
	ctx := f.holder.Push(context.Background(), "orders")

	_, _ = f.router.Exec(ctx, "UPDATE a")
	_, _ = f.router.Query(ctx, "SELECT b")
	_ = f.router.QueryRow(ctx, "SELECT c")
	_, _ = f.router.Begin(ctx)
	_ = f.router.Ping(ctx)

	assert.Equal(t, []string{"Exec: UPDATE a", "Query: SELECT b", "QueryRow: SELECT c", "BeginTx", "Ping"}, f.sources["orders"].Calls())
	assert.Empty(t, f.sources["primary"].Calls())
}

func TestRouter_ThroughInterceptor(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, []string{"primary", "orders", "users"})
	m := NewMarkers().
		MarkType("orders.Service", "orders").
		MarkType("users.Service", "users")
	in := NewInterceptor(m, WithHolder(f.holder))

	var outer, inner, after string
	err := in.Intercept(context.Background(), Call{Type: "orders.Service", Method: "Place"}, func(ctx context.Context) error {
		outer = f.served(t, ctx)
		err := in.Intercept(ctx, Call{Type: "users.Service", Method: "Get"}, func(ctx context.Context) error {
			inner = f.served(t, ctx)
			return nil
		})
		after = f.served(t, ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "orders", outer)
	assert.Equal(t, "users", inner)
	assert.Equal(t, "orders", after)
}

func TestRouter_CloseClosesAll(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, []string{"primary", "orders"})
	f.router.Close()
	for name, db := range f.sources {
		assert.True(t, db.Closed(), name)
	}
}

func TestNewRouter_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRouter("primary", nil)
	assert.EqualError(t, err, "dynds: router requires at least one data source")

	_, err = NewRouter("primary", map[string]DB{"primary": nil})
	assert.EqualError(t, err, `dynds: data source "primary" is nil`)

	_, err = NewRouter("main", map[string]DB{"primary": &TestDB{}})
	assert.EqualError(t, err, `dynds: primary "main" is not a configured data source`)
}

func TestRouter_Accessors(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, []string{"primary", "users", "orders"})
	assert.Equal(t, "primary", f.router.Primary())
	assert.Equal(t, []string{"orders", "primary", "users"}, f.router.Names())

	db, ok := f.router.DataSource("users")
	assert.True(t, ok)
	assert.Same(t, f.sources["users"], db)

	_, ok = f.router.DataSource("archive")
	assert.False(t, ok)
}

func TestHealthCheck_ReportsEachDataSource(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, []string{"primary", "orders"})
	status, err := HealthCheck(context.Background(), f.router)
	require.NoError(t, err)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, DataSourceStatus{Status: "ok", Primary: true}, status.DataSources["primary"])
	assert.Equal(t, DataSourceStatus{Status: "ok"}, status.DataSources["orders"])

	pingErr := errors.New("dial tcp: connection refused")
	f.sources["orders"].PingFunc = func(context.Context) error { return pingErr }
	status, err = HealthCheck(context.Background(), f.router)
	assertSafeErrorWraps(t, err, pingErr)
	assert.Equal(t, "dynds: health check failed for data source orders", err.Error())
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "unavailable", status.DataSources["orders"].Status)
	assert.Equal(t, "ok", status.DataSources["primary"].Status)
}
