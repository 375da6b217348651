package transport

import (
	"fmt"
	"net"
)

// EndpointKind discriminates the three shapes an EndpointDescriptor can
// take, per §3: IP+port, a filesystem path (Unix socket), or an inherited
// file handle.
type EndpointKind int

const (
	EndpointIP EndpointKind = iota
	EndpointUnix
	EndpointFileHandle
)

// EndpointDescriptor is the tagged endpoint value described in §3. For IP
// endpoints the Port may be 0 on input; TransportManager overwrites it with
// the kernel-assigned port after bind (§4.7).
type EndpointDescriptor struct {
	Kind EndpointKind

	// IP endpoint fields.
	IP   net.IP
	Port int

	// Unix endpoint field.
	Path string

	// File handle endpoint fields.
	FD         uintptr
	HandleHint string // e.g. "socket", "systemd", describing the handle's origin

	// TLS indicates whether this endpoint is configured for TLS, which
	// controls the scheme in String() per §6.
	TLS bool
}

// NewIPEndpoint builds an IP+port EndpointDescriptor.
func NewIPEndpoint(ip net.IP, port int) EndpointDescriptor {
	return EndpointDescriptor{Kind: EndpointIP, IP: ip, Port: port}
}

// NewUnixEndpoint builds a Unix-domain-socket EndpointDescriptor.
func NewUnixEndpoint(path string) EndpointDescriptor {
	return EndpointDescriptor{Kind: EndpointUnix, Path: path}
}

// NewFileHandleEndpoint builds an inherited-file-handle EndpointDescriptor.
func NewFileHandleEndpoint(fd uintptr, hint string) EndpointDescriptor {
	return EndpointDescriptor{Kind: EndpointFileHandle, FD: fd, HandleHint: hint}
}

// WithTLS returns a copy of e with the TLS flag set, used for display.
func (e EndpointDescriptor) WithTLS(tls bool) EndpointDescriptor {
	e.TLS = tls

	return e
}

func (e EndpointDescriptor) scheme() string {
	if e.TLS {
		return "https"
	}

	return "http"
}

// String renders the endpoint display form from §6:
// "{scheme}://{host}:{port}" for IP, "{scheme}://unix:{path}" for Unix, and
// "{scheme}://<file handle {fd}:{hint}>" for inherited FDs.
func (e EndpointDescriptor) String() string {
	switch e.Kind {
	case EndpointIP:
		return fmt.Sprintf("%s://%s:%d", e.scheme(), hostForDisplay(e.IP), e.Port)
	case EndpointUnix:
		return fmt.Sprintf("%s://unix:%s", e.scheme(), e.Path)
	case EndpointFileHandle:
		return fmt.Sprintf("%s://<file handle %d:%s>", e.scheme(), e.FD, e.HandleHint)
	default:
		return fmt.Sprintf("%s://<unknown endpoint>", e.scheme())
	}
}

func hostForDisplay(ip net.IP) string {
	if ip == nil {
		return ""
	}

	return ip.String()
}

// Network reports the net.Listen/net.Dial network name for this endpoint.
func (e EndpointDescriptor) Network() string {
	switch e.Kind {
	case EndpointUnix:
		return "unix"
	default:
		return "tcp"
	}
}

// Address reports the net.Listen/net.Dial address string for this endpoint.
func (e EndpointDescriptor) Address() string {
	switch e.Kind {
	case EndpointUnix:
		return e.Path
	case EndpointIP:
		return net.JoinHostPort(hostForDisplay(e.IP), fmt.Sprintf("%d", e.Port))
	default:
		return ""
	}
}

// CloneForIP returns a copy of the IP endpoint with a different address,
// used to expand a wildcard ("any") binding to concrete IPv4/IPv6
// addresses (§3, §8 scenario 6).
func (e EndpointDescriptor) CloneForIP(ip net.IP) EndpointDescriptor {
	clone := e
	clone.IP = ip

	return clone
}
