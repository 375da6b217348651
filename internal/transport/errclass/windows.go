//go:build windows

package errclass

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

// classifyPlatform maps the Windows WSA error codes spec.md §4.2 names onto
// the Reset/Abort buckets. WSAECONNABORTED is reset-like on Windows only
// (the spec calls this out explicitly); EINVAL is NOT abort-like on
// Windows, again per the spec's explicit platform carve-out.
func classifyPlatform(err error) (Kind, bool) {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return Unexpected, false
	}

	switch errno {
	case windows.WSAECONNRESET, windows.WSAESHUTDOWN, windows.WSAECONNABORTED:
		return Reset, true
	case windows.WSAEINTR, windows.ERROR_OPERATION_ABORTED:
		return Abort, true
	default:
		return Unexpected, false
	}
}
