//go:build unix

package errclass

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// classifyPlatform maps the unix syscall errnos spec.md §4.2 names onto the
// Reset/Abort buckets. EINVAL is listed as abort-like on non-Windows only,
// per the spec's explicit platform carve-out.
func classifyPlatform(err error) (Kind, bool) {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return Unexpected, false
	}

	switch errno {
	case unix.ECONNRESET, unix.ESHUTDOWN:
		return Reset, true
	case unix.EINTR, unix.EINVAL:
		return Abort, true
	default:
		return Unexpected, false
	}
}
