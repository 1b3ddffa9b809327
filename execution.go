package dynds

import (
	"context"

	"github.com/google/uuid"
)

// ExecutionID names one logical execution context. Every stack in a Holder
// is addressed by exactly one ExecutionID.
type ExecutionID string

type executionKey struct{}

// newExecutionID is a package-private seam so tests can produce predictable
// identifiers.
var newExecutionID = func() ExecutionID {
	return ExecutionID(uuid.NewString())
}

// NewExecution returns a context carrying a fresh ExecutionID. Any ID already
// present in ctx is shadowed, so keys pushed under ctx are invisible through
// the returned context.
func NewExecution(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, executionKey{}, newExecutionID())
}

// Fork prepares ctx for use by a new goroutine. The fork starts with no
// active key; push again inside the goroutine if it must keep the parent's
// data source.
func Fork(ctx context.Context) context.Context {
	return NewExecution(ctx)
}

// ExecutionFromContext returns the ExecutionID carried by ctx, if any.
func ExecutionFromContext(ctx context.Context) (ExecutionID, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(executionKey{}).(ExecutionID)
	return id, ok && id != ""
}

// ensureExecution returns ctx and its ExecutionID, attaching a new ID when
// ctx has none.
func ensureExecution(ctx context.Context) (context.Context, ExecutionID) {
	if id, ok := ExecutionFromContext(ctx); ok {
		return ctx, id
	}
	ctx = NewExecution(ctx)
	id, _ := ExecutionFromContext(ctx)
	return ctx, id
}
