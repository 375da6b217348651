package transport

import (
	"crypto/tls"
	"runtime"
)

// Protocol identifies one of the wire protocols an endpoint may carry.
// Parsing/serving the protocol itself is out of scope (§1); this is purely
// a configuration tag consulted by multiplexed bind and Alt-Svc policy.
type Protocol int

const (
	ProtocolH1 Protocol = iota
	ProtocolH2
	ProtocolH3
)

// TLSHandshakeCallback adapts a user-supplied per-connection TLS decision
// point, per §6's "TLS handshake callback feature".
type TLSHandshakeCallback func(ctx *TLSHandshakeContext) (*tls.Config, error)

// TLSHandshakeContext carries client-hello info, a user state slot, and the
// connection handle, per §6.
type TLSHandshakeContext struct {
	ClientHello *tls.ClientHelloInfo
	State       any
	Connection  *Connection
}

// TLSOptions is either static (a fixed *tls.Config) or a handshake callback
// consulted per connection; at most one is set.
type TLSOptions struct {
	Static    *tls.Config
	Handshake TLSHandshakeCallback
}

func (o TLSOptions) enabled() bool { return o.Static != nil || o.Handshake != nil }

// ListenOptions is the per-endpoint configuration surface from §3/§4.6:
// endpoint descriptor, protocol set, TLS state, max accepts, Alt-Svc
// policy, a reload fingerprint, and the two middleware chains.
//
// The middleware lists are append-only during configuration (Use/
// UseMultiplexed) and frozen once Build is called at bind time.
type ListenOptions struct {
	Endpoint EndpointDescriptor

	protocols       map[Protocol]bool
	protocolsSetExplicitly bool

	TLS TLSOptions

	MaxAccepts int

	SuppressAltSvc bool

	Fingerprint string

	middleware             []Middleware
	multiplexedMiddleware   []Middleware
}

// NewListenOptions returns options defaulting to all three protocols
// enabled, max-accepts equal to the logical CPU count, and no TLS.
func NewListenOptions(endpoint EndpointDescriptor) *ListenOptions {
	return &ListenOptions{
		Endpoint:   endpoint,
		protocols:  map[Protocol]bool{ProtocolH1: true, ProtocolH2: true, ProtocolH3: true},
		MaxAccepts: runtime.NumCPU(),
	}
}

// SetProtocols replaces the enabled protocol set and marks it as explicitly
// set (distinct from the all-three default).
func (o *ListenOptions) SetProtocols(protocols ...Protocol) {
	o.protocols = make(map[Protocol]bool, len(protocols))
	for _, p := range protocols {
		o.protocols[p] = true
	}

	o.protocolsSetExplicitly = true
}

// HasProtocol reports whether protocol p is enabled.
func (o *ListenOptions) HasProtocol(p Protocol) bool { return o.protocols[p] }

// ProtocolsExplicitlySet reports whether SetProtocols has been called.
func (o *ListenOptions) ProtocolsExplicitlySet() bool { return o.protocolsSetExplicitly }

// Use appends middleware to the stream chain.
func (o *ListenOptions) Use(mw Middleware) {
	o.middleware = append(o.middleware, mw)
}

// UseMultiplexed appends middleware to the multiplexed chain.
func (o *ListenOptions) UseMultiplexed(mw Middleware) {
	o.multiplexedMiddleware = append(o.multiplexedMiddleware, mw)
}

// Build composes the stream middleware chain right-to-left into one
// MiddlewareDelegate (§4.6).
func (o *ListenOptions) Build() MiddlewareDelegate {
	return ComposeMiddleware(o.middleware)
}

// BuildMultiplexed composes the multiplexed middleware chain.
func (o *ListenOptions) BuildMultiplexed() MiddlewareDelegate {
	return ComposeMiddleware(o.multiplexedMiddleware)
}

// Clone produces an independent options object bound to ip, used to expand
// a wildcard ("any") binding to concrete addresses. The middleware lists
// and protocol set are copied by value without re-triggering the
// "explicitly set" flag or any user configuration side effects (§4.6, §8
// scenario 6).
func (o *ListenOptions) Clone(endpoint EndpointDescriptor) *ListenOptions {
	clone := &ListenOptions{
		Endpoint:               endpoint,
		protocols:              make(map[Protocol]bool, len(o.protocols)),
		protocolsSetExplicitly: o.protocolsSetExplicitly,
		TLS:                    o.TLS,
		MaxAccepts:             o.MaxAccepts,
		SuppressAltSvc:         o.SuppressAltSvc,
		Fingerprint:            o.Fingerprint,
		middleware:             append([]Middleware(nil), o.middleware...),
		multiplexedMiddleware:  append([]Middleware(nil), o.multiplexedMiddleware...),
	}

	for p, v := range o.protocols {
		clone.protocols[p] = v
	}

	return clone
}
