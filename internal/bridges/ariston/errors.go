package ariston

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors for the Ariston bridge package.
//
// Remote failures are classified into one of the first five sentinels at the
// client boundary. Retry decisions in the poller and set pipeline depend only
// on which sentinel an error wraps.
var (
	// ErrTransport is returned when the remote service could not be reached,
	// timed out, or answered with an unexpected status.
	ErrTransport = errors.New("ariston: transport failure")

	// ErrAuthentication is returned when login is rejected or the remote
	// session has expired.
	ErrAuthentication = errors.New("ariston: authentication failed")

	// ErrStaleWrite is returned when the remote service rejects a write
	// because the supplied old value no longer matches its current value.
	ErrStaleWrite = errors.New("ariston: stale write rejected")

	// ErrUnsupportedParameter is returned when the device does not expose a
	// parameter or dataset.
	ErrUnsupportedParameter = errors.New("ariston: parameter not supported by device")

	// ErrValidation is returned when a requested value is outside the
	// declared range or options of a parameter.
	ErrValidation = errors.New("ariston: invalid parameter value")

	// ErrNotRunning is returned by set operations while the engine is not
	// in the running state.
	ErrNotRunning = errors.New("ariston: engine not running")

	// ErrNotFound is returned by cache reads for keys with no entry.
	ErrNotFound = errors.New("ariston: parameter not found")

	// ErrUnknownParameter is returned for names the catalog does not know.
	ErrUnknownParameter = errors.New("ariston: unknown parameter")

	// ErrReadOnly is returned when a set targets a parameter with no write
	// operation.
	ErrReadOnly = errors.New("ariston: parameter is read-only")

	// ErrNoGateway is returned when the account lists no usable gateway.
	ErrNoGateway = errors.New("ariston: no gateway available")
)

// RequestFailedError is the uniform failure reported by the client for any
// remote operation. Status is zero when no HTTP response was received.
type RequestFailedError struct {
	Endpoint string
	Status   int
	Kind     error
	Err      error
}

func (e *RequestFailedError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Endpoint, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: status %d: %v", e.Kind, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: status %d", e.Kind, e.Endpoint, e.Status)
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *RequestFailedError) Unwrap() []error {
	errs := make([]error, 0, 2) //nolint:mnd // kind + cause
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// endpointClass selects which status codes carry special meaning.
type endpointClass int

const (
	classRead endpointClass = iota
	classLogin
	classWrite
	classAdditionalRead
)

// classifyStatus maps a non-2xx status to a taxonomy sentinel.
func classifyStatus(class endpointClass, status int) error {
	switch {
	case class == classLogin:
		return ErrAuthentication
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrAuthentication
	case class == classWrite && (status == http.StatusConflict || status == http.StatusPreconditionFailed):
		return ErrStaleWrite
	case class == classAdditionalRead && status == http.StatusInternalServerError:
		return ErrUnsupportedParameter
	case class != classWrite && status == http.StatusNotFound:
		return ErrUnsupportedParameter
	default:
		return ErrTransport
	}
}

// isRetryable reports whether an operation that failed with err may be
// attempted again without further action.
func isRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
