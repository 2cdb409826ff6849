package metric

import (
	"errors"
	"fmt"
)

// Error kinds reported by the collector. Callers match them with errors.Is.
var (
	// ErrConfiguration is fatal and only returned at construction time.
	ErrConfiguration = errors.New("configuration error")
	// ErrRead is a recoverable per-tick, per-slot read failure.
	ErrRead = errors.New("read error")
	// ErrPublish is a recoverable per-value sink failure.
	ErrPublish = errors.New("publish error")
	// ErrLifecycle is returned for operations invalid in the current state.
	ErrLifecycle = errors.New("lifecycle error")
)

// ConfigErrorf returns an error wrapping ErrConfiguration.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
