package dynds

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultRollbackTimeout = 5 * time.Second

// HealthStatus is the response type for health check endpoints.
type HealthStatus struct {
	Status      string                      `json:"status"`
	DataSources map[string]DataSourceStatus `json:"datasources"`
}

// DataSourceStatus reports one data source.
type DataSourceStatus struct {
	Status  string `json:"status"`
	Primary bool   `json:"primary,omitempty"`
}

// HealthCheck pings every data source of r. The overall status is "ok" only
// when all of them answer; the returned error is the first failure, wrapped
// in a SafeError.
func HealthCheck(ctx context.Context, r *Router) (*HealthStatus, error) {
	status := &HealthStatus{
		Status:      "ok",
		DataSources: make(map[string]DataSourceStatus, len(r.sources)),
	}

	var firstErr error
	for _, name := range r.Names() {
		st := DataSourceStatus{Status: "ok", Primary: name == r.primary}
		if err := r.sources[name].Ping(ctx); err != nil {
			st.Status = "unavailable"
			status.Status = "degraded"
			if firstErr == nil {
				firstErr = &SafeError{msg: "dynds: health check failed for data source " + name, cause: err}
			}
		}
		status.DataSources[name] = st
	}
	return status, firstErr
}

// WithTx executes fn within a transaction. If fn returns an error or panics,
// the transaction is rolled back. Otherwise, it is committed.
//
// When db is a Router the transaction is opened on the data source active in
// ctx; keys pushed while fn runs do not move the transaction.
func WithTx(ctx context.Context, db DB, opts pgx.TxOptions, fn func(pgx.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return &SafeError{msg: "dynds: begin tx failed", cause: err}
	}

	rollbackCtx, cancelRollback := context.WithTimeout(context.Background(), defaultRollbackTimeout)
	defer cancelRollback()

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(rollbackCtx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(rollbackCtx)
		}
	}()

	err = fn(tx)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &SafeError{msg: "dynds: commit tx failed", cause: err}
	}

	return nil
}
