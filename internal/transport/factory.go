package transport

import (
	"context"
	"crypto/tls"

	netcoreerrors "github.com/orizon-lang/netcore/internal/errors"
)

// FactorySelector is the optional capability from §6: if a factory
// implements it, it is consulted before being accepted for an endpoint;
// factories that don't implement it are assumed to support any endpoint.
type FactorySelector interface {
	CanBind(endpoint EndpointDescriptor) bool
}

// StreamListenerFactory turns an endpoint into a StreamListener (§6,
// "Transport factory contract (stream)"). tlsConfig is non-nil only when
// the endpoint's ListenOptions carry TLS configuration; factories that
// can't terminate TLS themselves (Unix domain sockets, in-memory test
// fixtures) simply ignore it.
type StreamListenerFactory interface {
	Bind(ctx context.Context, endpoint EndpointDescriptor, tlsConfig *tls.Config) (StreamListener, EndpointDescriptor, error)
}

// MultiplexedListenerFactory turns an endpoint into a StreamListener whose
// accepted connections expose only the base connection shape (§6,
// "Transport factory contract (multiplexed)"). It additionally receives
// the immutable TLS feature bag built by BuildTLSFeatureBag.
type MultiplexedListenerFactory interface {
	BindMultiplexed(ctx context.Context, endpoint EndpointDescriptor, features *FeatureBag) (StreamListener, EndpointDescriptor, error)
}

func selectStreamFactory(factories []StreamListenerFactory, endpoint EndpointDescriptor) (StreamListenerFactory, error) {
	for _, f := range factories {
		if sel, ok := f.(FactorySelector); ok {
			if !sel.CanBind(endpoint) {
				continue
			}
		}

		return f, nil
	}

	return nil, netcoreerrors.NoFactoryForEndpoint(endpointKindName(endpoint), endpoint.String())
}

func selectMultiplexedFactory(factories []MultiplexedListenerFactory, endpoint EndpointDescriptor) (MultiplexedListenerFactory, error) {
	for _, f := range factories {
		if sel, ok := f.(FactorySelector); ok {
			if !sel.CanBind(endpoint) {
				continue
			}
		}

		return f, nil
	}

	return nil, netcoreerrors.NoFactoryForEndpoint(endpointKindName(endpoint), endpoint.String())
}

func endpointKindName(e EndpointDescriptor) string {
	switch e.Kind {
	case EndpointIP:
		return "ip"
	case EndpointUnix:
		return "unix"
	case EndpointFileHandle:
		return "file-handle"
	default:
		return "unknown"
	}
}
