package locator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateService is returned when a kind is registered twice.
	ErrDuplicateService = errors.New("service already registered")
	// ErrUnknownKind is returned for a kind outside the known set.
	ErrUnknownKind = errors.New("unknown service kind")
	// ErrAlreadyBootstrapped is returned by Register or Bootstrap once
	// bootstrap has begun.
	ErrAlreadyBootstrapped = errors.New("locator already bootstrapped")
	// ErrNotBootstrapped is returned by lookups before bootstrap completes.
	ErrNotBootstrapped = errors.New("locator not bootstrapped")
	// ErrServiceNotFound is returned for a kind that was never registered.
	ErrServiceNotFound = errors.New("service not found")
	// ErrServiceUnavailable is returned for a service whose start failed.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrServiceType is returned by Lookup when the service has another type.
	ErrServiceType = errors.New("service has unexpected type")
)

// ConfigurationError reports a factory that could not build its service.
// It is fatal to boot.
type ConfigurationError struct {
	Kind Kind
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configure %s: %v", e.Kind, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StartError aggregates every service that failed to start.
type StartError struct {
	// Failed lists the failing kinds in registration order.
	Failed []Kind
	// Err combines the individual failures.
	Err error
}

func (e *StartError) Error() string {
	names := make([]string, len(e.Failed))
	for i, k := range e.Failed {
		names[i] = k.String()
	}
	return fmt.Sprintf("start services [%s]: %v", strings.Join(names, ", "), e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Has reports whether kind failed to start.
func (e *StartError) Has(kind Kind) bool {
	for _, k := range e.Failed {
		if k == kind {
			return true
		}
	}
	return false
}
