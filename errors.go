package dynds

import (
	"errors"
	"fmt"
)

// SafeError wraps a cause with an error string safe for default production
// logging. The wrapped cause may still contain sensitive detail.
type SafeError struct {
	msg   string
	cause error
}

func (e *SafeError) Error() string { return e.msg }
func (e *SafeError) Unwrap() error { return e.cause }

var (
	// ErrNoMarker reports that neither a call nor its declaring type carries
	// a data source marker.
	ErrNoMarker = errors.New("dynds: no data source marker")

	// ErrUnknownDataSource reports that the active key names no configured
	// data source or group.
	ErrUnknownDataSource = errors.New("dynds: unknown data source")
)

// ResolutionError is returned by Resolve and the Interceptor when no marker
// applies to Call. The wrapped call is never run.
type ResolutionError struct {
	Call Call
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("dynds: no data source marker on %s or its type", e.Call)
}

func (e *ResolutionError) Unwrap() error { return ErrNoMarker }

// UnknownDataSourceError is returned by a strict Router when the active key
// matches nothing it can route to.
type UnknownDataSourceError struct {
	Key string
}

func (e *UnknownDataSourceError) Error() string {
	return fmt.Sprintf("dynds: unknown data source %q", e.Key)
}

func (e *UnknownDataSourceError) Unwrap() error { return ErrUnknownDataSource }
