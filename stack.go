package dynds

import (
	"context"
	"sync"
	"sync/atomic"
)

// Holder is the registry of per-execution key stacks.
//
// Only the registry itself is synchronized. A stack is mutated solely by the
// execution that owns it, so its contents carry no lock.
type Holder struct {
	stacks sync.Map // ExecutionID -> *keyStack

	live               atomic.Int64
	pushes             atomic.Uint64
	pops               atomic.Uint64
	clears             atomic.Uint64
	resolutionFailures atomic.Uint64
}

type keyStack struct {
	keys []string
}

// NewHolder returns an empty Holder.
func NewHolder() *Holder {
	return &Holder{}
}

var defaultHolder = NewHolder()

// DefaultHolder returns the process-wide Holder used by the package-level
// Push, Peek, Pop and Clear, and by Interceptors and Routers built without
// an explicit Holder.
func DefaultHolder() *Holder {
	return defaultHolder
}

// Push makes key the active key for the execution carried by ctx. The empty
// key explicitly selects the primary data source.
//
// If ctx carries no ExecutionID a new one is attached, and the returned
// context must be used for the matching Pop.
func (h *Holder) Push(ctx context.Context, key string) context.Context {
	ctx, id := ensureExecution(ctx)

	s, ok := h.lookup(id)
	if !ok {
		s = &keyStack{}
		h.stacks.Store(id, s)
		h.live.Add(1)
	}
	s.keys = append(s.keys, key)
	h.pushes.Add(1)
	return ctx
}

// Peek returns the active key. The boolean is false when nothing has been
// pushed for this execution, which is different from an active empty key.
func (h *Holder) Peek(ctx context.Context) (string, bool) {
	id, ok := ExecutionFromContext(ctx)
	if !ok {
		return "", false
	}
	s, ok := h.lookup(id)
	if !ok || len(s.keys) == 0 {
		return "", false
	}
	return s.keys[len(s.keys)-1], true
}

// Pop removes the active key, restoring the previous one. The stack is
// dropped from the registry as soon as it is empty. Popping an execution
// without a stack does nothing.
func (h *Holder) Pop(ctx context.Context) {
	id, ok := ExecutionFromContext(ctx)
	if !ok {
		return
	}
	s, ok := h.lookup(id)
	if !ok {
		return
	}

	if n := len(s.keys); n > 0 {
		s.keys[n-1] = ""
		s.keys = s.keys[:n-1]
		h.pops.Add(1)
	}
	if len(s.keys) == 0 {
		h.remove(id)
	}
}

// Clear drops the whole stack of the execution carried by ctx. Use it to
// reset an execution that pushed without a guaranteed Pop.
func (h *Holder) Clear(ctx context.Context) {
	id, ok := ExecutionFromContext(ctx)
	if !ok {
		return
	}
	if h.remove(id) {
		h.clears.Add(1)
	}
}

// Scope pushes key and returns the context to run under together with a
// release func. Release pops exactly once no matter how often it is called.
//
//	ctx, release := h.Scope(ctx, "orders")
//	defer release()
func (h *Holder) Scope(ctx context.Context, key string) (context.Context, func()) {
	ctx = h.Push(ctx, key)
	var once sync.Once
	return ctx, func() {
		once.Do(func() { h.Pop(ctx) })
	}
}

// Keys returns a snapshot of the stack, innermost key first. The boolean is
// false when the execution has no stack in the registry.
func (h *Holder) Keys(ctx context.Context) ([]string, bool) {
	id, ok := ExecutionFromContext(ctx)
	if !ok {
		return nil, false
	}
	s, ok := h.lookup(id)
	if !ok {
		return nil, false
	}
	out := make([]string, len(s.keys))
	for i, k := range s.keys {
		out[len(s.keys)-1-i] = k
	}
	return out, true
}

// Depth returns the number of keys on the stack of the execution carried by
// ctx.
func (h *Holder) Depth(ctx context.Context) int {
	id, ok := ExecutionFromContext(ctx)
	if !ok {
		return 0
	}
	s, ok := h.lookup(id)
	if !ok {
		return 0
	}
	return len(s.keys)
}

// Live returns how many executions currently hold a stack. A value that grows
// without bound points at pushes that are never popped.
func (h *Holder) Live() int {
	return int(h.live.Load())
}

func (h *Holder) lookup(id ExecutionID) (*keyStack, bool) {
	v, ok := h.stacks.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*keyStack), true
}

func (h *Holder) remove(id ExecutionID) bool {
	if _, loaded := h.stacks.LoadAndDelete(id); loaded {
		h.live.Add(-1)
		return true
	}
	return false
}

// Push calls DefaultHolder().Push.
func Push(ctx context.Context, key string) context.Context {
	return defaultHolder.Push(ctx, key)
}

// Peek calls DefaultHolder().Peek.
func Peek(ctx context.Context) (string, bool) {
	return defaultHolder.Peek(ctx)
}

// Pop calls DefaultHolder().Pop.
func Pop(ctx context.Context) {
	defaultHolder.Pop(ctx)
}

// Clear calls DefaultHolder().Clear.
func Clear(ctx context.Context) {
	defaultHolder.Clear(ctx)
}
