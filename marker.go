package dynds

import (
	"reflect"
	"sync"
)

// Call identifies an intercepted callable by the name of its declaring type
// and its method name. A plain function uses its package path as Type.
type Call struct {
	Type   string
	Method string
}

func (c Call) String() string {
	if c.Method == "" {
		return c.Type
	}
	return c.Type + "." + c.Method
}

// TypeOf returns the identity string Markers uses for T, e.g.
// "*orders.Service" for TypeOf[*orders.Service]().
func TypeOf[T any]() string {
	return reflect.TypeFor[T]().String()
}

// Marker declares the data source key a call runs against. The empty key
// selects the primary data source.
type Marker struct {
	Key string
}

// MarkerSource looks up the marker that applies to a call.
type MarkerSource interface {
	Lookup(call Call) (Marker, bool)
}

// MarkerFunc adapts a function to MarkerSource.
type MarkerFunc func(call Call) (Marker, bool)

func (f MarkerFunc) Lookup(call Call) (Marker, bool) { return f(call) }

// Markers holds markers registered for methods and for types. A method
// marker takes precedence over the marker of its declaring type.
//
// Register at startup; Lookup is safe to call concurrently with registration.
type Markers struct {
	mu      sync.RWMutex
	methods map[Call]Marker
	types   map[string]Marker
}

var _ MarkerSource = (*Markers)(nil)

// NewMarkers returns an empty registry.
func NewMarkers() *Markers {
	return &Markers{
		methods: make(map[Call]Marker),
		types:   make(map[string]Marker),
	}
}

// MarkType sets the key for every method of typ that has no marker of its own.
func (m *Markers) MarkType(typ, key string) *Markers {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[typ] = Marker{Key: key}
	return m
}

// MarkMethod sets the key for one method of typ.
func (m *Markers) MarkMethod(typ, method, key string) *Markers {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[Call{Type: typ, Method: method}] = Marker{Key: key}
	return m
}

// UnmarkType removes the type-level marker of typ.
func (m *Markers) UnmarkType(typ string) *Markers {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.types, typ)
	return m
}

// UnmarkMethod removes the method-level marker of typ.method.
func (m *Markers) UnmarkMethod(typ, method string) *Markers {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.methods, Call{Type: typ, Method: method})
	return m
}

// Lookup returns the method marker for call, else the type marker. A nil
// *Markers has no markers.
func (m *Markers) Lookup(call Call) (Marker, bool) {
	if m == nil {
		return Marker{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mk, ok := m.methods[call]; ok {
		return mk, true
	}
	mk, ok := m.types[call.Type]
	return mk, ok
}

// Resolve returns the key that governs call, or a *ResolutionError when no
// marker applies.
func Resolve(src MarkerSource, call Call) (string, error) {
	if src == nil {
		return "", &ResolutionError{Call: call}
	}
	mk, ok := src.Lookup(call)
	if !ok {
		return "", &ResolutionError{Call: call}
	}
	return mk.Key, nil
}
