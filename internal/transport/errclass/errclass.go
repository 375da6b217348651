// Package errclass classifies socket errors observed by the receive and
// send loops into the three buckets spec.md §4.2/§7 requires: reset-like,
// abort-like, and unexpected. The syscall error-number tables are adapted
// from github.com/bassosimone/nop's errclass/{unix,windows}.go, which the
// nop library uses to label errors for measurement rather than control
// flow; here the same tables drive the socket connection's shutdown-reason
// classification instead.
package errclass

import (
	"errors"
	"io"
	"net"
	"os"
)

// Kind is the outcome of classifying a socket error.
type Kind int

const (
	// Unexpected is any error that is not recognized as a reset or an
	// abort; it is logged at error level with full cause.
	Unexpected Kind = iota
	// Reset covers peer-initiated teardown (ECONNRESET, ESHUTDOWN, and on
	// Windows ECONNABORTED): translated to a "connection reset" error.
	Reset
	// Abort covers local teardown the connection itself triggered
	// (EINTR/operation-aborted, and on non-Windows also EINVAL): expected
	// once shutdown has begun, logged as unexpected only if observed
	// before the socket was marked disposed.
	Abort
	// EOF is a clean end of stream (zero-byte read), not an error at all.
	// The receive loop checks io.EOF from a socket read directly; an io.EOF
	// that reaches Classify by another path is reported as this kind.
	EOF
)

func (k Kind) String() string {
	switch k {
	case Reset:
		return "reset"
	case Abort:
		return "abort"
	case EOF:
		return "eof"
	default:
		return "unexpected"
	}
}

// Classify inspects err and returns the bucket it falls into. A nil error
// is never passed to Classify by this package's callers; it returns
// Unexpected for nil defensively.
func Classify(err error) Kind {
	if err == nil {
		return Unexpected
	}

	if errors.Is(err, io.EOF) {
		return EOF
	}

	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return Abort
	}

	if classified, ok := classifyPlatform(err); ok {
		return classified
	}

	return Unexpected
}
