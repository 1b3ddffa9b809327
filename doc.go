// Package dynds routes database work to one of several named data sources
// based on a key selected by the innermost annotated call.
//
// A call declares its data source through a Marker registered for the call
// itself or for the type that declares it. An Interceptor resolves that
// marker, pushes its key onto the stack of the current execution context,
// runs the call, and pops the key again on every exit path. A Router asks
// Peek which key is active and dispatches to the matching pgx pool.
//
// Invariants:
//
//   - a method marker wins over a type marker; no marker at all is an error
//     and the call never runs.
//   - push/pop pairs nest strictly within one execution context; after a pop
//     Peek reports exactly what it reported before the matching push.
//   - a stack never persists empty in the registry.
//   - execution contexts never observe each other's keys.
//   - the empty key selects the primary data source and is distinct from
//     "nothing pushed".
//
// Go has no goroutine-local storage, so an execution context is an
// ExecutionID carried in a context.Context. Hand Fork(ctx) to every new
// goroutine; two goroutines must never share one ExecutionID.
//
// Known limitation: if an execution is abandoned without its deferred pop
// running (a manual Push with no Pop, or a supervisor that swallows
// runtime.Goexit and reuses the context), the stale key stays on the stack.
// Clear resets the context in that case; nothing in the package detects it.
package dynds
