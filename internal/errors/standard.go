// Package errors provides standardized error messaging for the transport core.
package errors

import (
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "CONFIGURATION"
	CategoryBind          ErrorCategory = "BIND"
	CategoryTransport     ErrorCategory = "TRANSPORT"
	CategoryShutdown      ErrorCategory = "SHUTDOWN"
	CategoryMiddleware    ErrorCategory = "MIDDLEWARE"
)

// StandardError provides a consistent error format. Transport errors, unlike
// a one-shot diagnostic reported at parse time, are returned up through
// manager.Bind/StopAll and often need to compose with errors.Is/errors.As —
// BindFailed in particular wraps a net.OpError or similar from the
// underlying listener, and a caller may want to test for that concrete
// cause rather than just read the message. Cause holds that wrapped error
// and Unwrap exposes it to the standard errors package; site records where
// the error was constructed.
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Cause    error
	site     callSite
}

// callSite is where NewStandardError was invoked from, captured once at
// construction so a log line can point at the operational call that failed
// without the caller threading a logger through every constructor.
type callSite struct {
	function string
	file     string
	line     int
}

func (s callSite) String() string {
	if s.function == "" {
		return "unknown"
	}

	return fmt.Sprintf("%s (%s:%d)", s.function, s.file, s.line)
}

// Error implements the error interface. The cause, if any, is appended so
// logging a StandardError with %v or %s still surfaces the underlying
// I/O error instead of discarding it.
func (e *StandardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s (caller: %s): %v", e.Category, e.Code, e.Message, e.site, e.Cause)
	}

	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.site)
}

// Unwrap exposes Cause to errors.Is/errors.As, so e.g. errors.Is(err,
// net.ErrClosed) still succeeds through a BindFailed wrapper.
func (e *StandardError) Unwrap() error {
	return e.Cause
}

// NewStandardError creates a new standardized error. cause may be nil; pass
// the underlying error here rather than stuffing it into context so a
// chained errors.Is/errors.As check still works after the wrap.
func NewStandardError(category ErrorCategory, code, message string, cause error, context map[string]interface{}) *StandardError {
	site := callSite{function: "unknown"}

	if pc, file, line, ok := runtime.Caller(1); ok {
		site.file = file
		site.line = line

		if fn := runtime.FuncForPC(pc); fn != nil {
			site.function = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Cause:    cause,
		site:     site,
	}
}

// NoFactoryForEndpoint reports that no registered transport factory supports
// the endpoint. This is a configuration error, fatal to that endpoint's startup.
func NoFactoryForEndpoint(kind, value string) *StandardError {
	return NewStandardError(CategoryConfiguration, "NO_FACTORY_FOR_ENDPOINT",
		fmt.Sprintf("no registered factory supports endpoint %s: %s", kind, value), nil,
		map[string]interface{}{"endpointKind": kind, "endpointValue": value})
}

// NoStreamFactoryRegistered reports that Bind was called but no stream
// transport factory has been registered with the manager.
func NoStreamFactoryRegistered() *StandardError {
	return NewStandardError(CategoryConfiguration, "NO_STREAM_FACTORY",
		"at least one stream connection listener factory must be registered", nil, nil)
}

// NoMultiplexedFactoryRegistered reports that BindMultiplexed was called but
// no multiplexed transport factory has been registered with the manager.
func NoMultiplexedFactoryRegistered() *StandardError {
	return NewStandardError(CategoryConfiguration, "NO_MULTIPLEXED_FACTORY",
		"at least one multiplexed connection listener factory must be registered", nil, nil)
}

// MissingTLSForProduction reports that a multiplexed endpoint was bound
// without TLS outside of the in-memory test fixture transport.
func MissingTLSForProduction(endpoint string) *StandardError {
	return NewStandardError(CategoryConfiguration, "MISSING_TLS",
		fmt.Sprintf("multiplexed endpoint %s requires TLS configuration", endpoint), nil,
		map[string]interface{}{"endpoint": endpoint})
}

// BindFailed wraps a low-level listen failure for an endpoint. cause becomes
// the error's Unwrap target rather than only a context value, so a caller
// can still test for a specific net.OpError beneath the wrap.
func BindFailed(endpoint string, cause error) *StandardError {
	return NewStandardError(CategoryBind, "BIND_FAILED",
		fmt.Sprintf("failed to bind endpoint %s: %v", endpoint, cause), cause,
		map[string]interface{}{"endpoint": endpoint})
}

// DrainIncomplete reports that close-all-connections did not complete within
// its timeout and the caller must fall back to abort.
func DrainIncomplete(endpoint string, remaining int) *StandardError {
	return NewStandardError(CategoryShutdown, "DRAIN_INCOMPLETE",
		fmt.Sprintf("not all connections closed gracefully on %s: %d remaining", endpoint, remaining), nil,
		map[string]interface{}{"endpoint": endpoint, "remaining": remaining})
}

// AbortIncomplete reports that abort-all-connections did not complete for
// every tracked connection.
func AbortIncomplete(endpoint string, remaining int) *StandardError {
	return NewStandardError(CategoryShutdown, "ABORT_INCOMPLETE",
		fmt.Sprintf("not all connections aborted on %s: %d remaining", endpoint, remaining), nil,
		map[string]interface{}{"endpoint": endpoint, "remaining": remaining})
}
