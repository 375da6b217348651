package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/orizon-lang/netcore/internal/runtime/netstack"
)

// TCPListenerFactory is the stream transport factory over net.Listener
// (§6): it binds IP endpoints with optional TLS, using netstack.TLSServer
// to enforce a TLS 1.3 floor the same way the rest of this module's TCP
// listeners do.
type TCPListenerFactory struct{}

var _ StreamListenerFactory = TCPListenerFactory{}
var _ FactorySelector = TCPListenerFactory{}

// CanBind accepts IP endpoints only, deferring Unix and file-handle
// endpoints to other registered factories.
func (TCPListenerFactory) CanBind(endpoint EndpointDescriptor) bool {
	return endpoint.Kind == EndpointIP
}

// Bind listens on endpoint's network/address, wrapping it in TLS when the
// endpoint carries a TLS configuration. tlsConfig comes from the bound
// ListenOptions' TLSOptions (static config or handshake callback); when
// endpoint.TLS is set but tlsConfig is nil, netstack.TLSServer still
// enforces the TLS 1.3 floor but the caller must have set one of
// Certificates/GetCertificate/GetConfigForClient or every handshake will
// fail, matching plain tls.Config semantics.
func (TCPListenerFactory) Bind(ctx context.Context, endpoint EndpointDescriptor, tlsConfig *tls.Config) (StreamListener, EndpointDescriptor, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, endpoint.Network(), endpoint.Address())
	if err != nil {
		return nil, EndpointDescriptor{}, err
	}

	if endpoint.TLS {
		ln = netstack.TLSServer(ln, tlsConfig)
	}

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	effective := endpoint

	if ok {
		effective = endpoint.CloneForIP(tcpAddr.IP)
		effective.Port = tcpAddr.Port
	}

	return &netListener{Listener: ln}, effective, nil
}

// netListener adapts a net.Listener to the StreamListener contract,
// translating a closed-listener Accept error into the clean (nil, nil)
// unbind signal (§4.3) instead of surfacing it as an accept failure.
type netListener struct {
	net.Listener
}

func (l *netListener) Accept(ctx context.Context) (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, nil
		}

		return nil, err
	}

	return conn, nil
}

func (l *netListener) Unbind(ctx context.Context) error {
	return l.Listener.Close()
}
