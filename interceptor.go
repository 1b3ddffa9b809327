package dynds

import (
	"context"
	"log/slog"
)

// InterceptorOption configures NewInterceptor.
type InterceptorOption func(*Interceptor)

// WithHolder makes the Interceptor push onto h instead of DefaultHolder().
func WithHolder(h *Holder) InterceptorOption {
	return func(in *Interceptor) {
		if h != nil {
			in.holder = h
		}
	}
}

// WithLogger sets the logger used for switch and resolution diagnostics.
// Logging is discarded by default.
func WithLogger(l *slog.Logger) InterceptorOption {
	return func(in *Interceptor) {
		if l != nil {
			in.logger = l
		}
	}
}

// Interceptor wraps calls so they run against the data source named by
// their marker.
type Interceptor struct {
	markers MarkerSource
	holder  *Holder
	logger  *slog.Logger
}

// NewInterceptor returns an Interceptor resolving markers from src.
func NewInterceptor(src MarkerSource, opts ...InterceptorOption) *Interceptor {
	in := &Interceptor{
		markers: src,
		holder:  defaultHolder,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(in)
	}
	return in
}

// Holder returns the Holder the Interceptor pushes onto.
func (in *Interceptor) Holder() *Holder {
	return in.holder
}

// Intercept resolves the marker for call and runs proceed with its key
// active. If no marker applies a *ResolutionError is returned and proceed
// never runs. Otherwise the key is popped on every exit path, including a
// panic, and proceed's error or panic reaches the caller unchanged.
//
// proceed must use the context it is given: it carries the execution whose
// stack holds the key.
func (in *Interceptor) Intercept(ctx context.Context, call Call, proceed func(context.Context) error) error {
	key, err := Resolve(in.markers, call)
	if err != nil {
		in.holder.resolutionFailures.Add(1)
		in.logger.WarnContext(ctx, "dynds: marker resolution failed", "call", call.String())
		return err
	}
	return in.run(ctx, call, key, proceed)
}

// InterceptKey runs proceed with key active. Use it when the marker has been
// resolved by the caller.
func (in *Interceptor) InterceptKey(ctx context.Context, key string, proceed func(context.Context) error) error {
	return in.run(ctx, Call{}, key, proceed)
}

func (in *Interceptor) run(ctx context.Context, call Call, key string, proceed func(context.Context) error) error {
	prev, hadPrev := in.holder.Peek(ctx)
	ctx = in.holder.Push(ctx, key)
	defer in.holder.Pop(ctx)

	if in.logger.Enabled(ctx, slog.LevelDebug) {
		in.logger.DebugContext(ctx, "dynds: data source switched",
			"call", call.String(),
			"key", key,
			"previous", prev,
			"nested", hadPrev,
			"depth", in.holder.Depth(ctx),
		)
	}

	return proceed(ctx)
}

// Invoke is Intercept for calls that return a value.
func Invoke[T any](ctx context.Context, in *Interceptor, call Call, proceed func(context.Context) (T, error)) (T, error) {
	var out T
	err := in.Intercept(ctx, call, func(ctx context.Context) error {
		var err error
		out, err = proceed(ctx)
		return err
	})
	return out, err
}
