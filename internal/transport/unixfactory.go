package transport

import (
	"context"
	"crypto/tls"
	"net"
)

// UnixListenerFactory is the stream transport factory over Unix domain
// sockets (§3, §6).
type UnixListenerFactory struct{}

var _ StreamListenerFactory = UnixListenerFactory{}
var _ FactorySelector = UnixListenerFactory{}

// CanBind accepts only Unix-socket endpoints.
func (UnixListenerFactory) CanBind(endpoint EndpointDescriptor) bool {
	return endpoint.Kind == EndpointUnix
}

// Bind listens on endpoint.Path. Unix domain sockets never terminate TLS
// here, so tlsConfig is ignored.
func (UnixListenerFactory) Bind(ctx context.Context, endpoint EndpointDescriptor, tlsConfig *tls.Config) (StreamListener, EndpointDescriptor, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, endpoint.Network(), endpoint.Address())
	if err != nil {
		return nil, EndpointDescriptor{}, err
	}

	return &netListener{Listener: ln}, endpoint, nil
}
