package transport

import "crypto/tls"

// TLSConnectionCallbackOptions is the TLS feature published into the
// immutable bind-time feature bag a multiplexed factory receives (§4.7).
// OnConnection supplies the TLS configuration to present.
// QUICListenerFactory calls it once, at bind, with an empty
// TLSHandshakeContext and presents the result to every connection; it is
// not consulted per inbound connection. OnConnectionState is an optional
// passthrough of caller-supplied state into the TLSHandshakeContext.
type TLSConnectionCallbackOptions struct {
	ApplicationProtocols []string
	OnConnection         TLSHandshakeCallback
	OnConnectionState    func(state any) any
}

func defaultMultiplexedProtocols(protos []string) []string {
	if len(protos) > 0 {
		return protos
	}

	return []string{"h3"}
}

// BuildTLSFeatureBag builds the feature bag a multiplexed bind passes to
// its factory, following the three branches in §4.7: static options,
// handshake callback, or an empty bag (valid only for in-memory test
// fixtures — the QUIC factory rejects an empty bag for a real endpoint).
func BuildTLSFeatureBag(opts TLSOptions) *FeatureBag {
	bag := NewFeatureBag()

	switch {
	case opts.Static != nil:
		static := opts.Static
		bag.Set(featureKeyTLSHandshake, &TLSConnectionCallbackOptions{
			ApplicationProtocols: defaultMultiplexedProtocols(static.NextProtos),
			OnConnection: func(*TLSHandshakeContext) (*tls.Config, error) {
				return static, nil
			},
		})
	case opts.Handshake != nil:
		bag.Set(featureKeyTLSHandshake, &TLSConnectionCallbackOptions{
			ApplicationProtocols: []string{"h3"},
			OnConnection:         opts.Handshake,
			OnConnectionState:    func(state any) any { return state },
		})
	}

	return bag
}

// TLSFeatureFrom retrieves the TLS feature previously built by
// BuildTLSFeatureBag, if any.
func TLSFeatureFrom(bag *FeatureBag) (*TLSConnectionCallbackOptions, bool) {
	v, ok := bag.Get(featureKeyTLSHandshake)
	if !ok {
		return nil, false
	}

	feature, ok := v.(*TLSConnectionCallbackOptions)

	return feature, ok
}

// buildTLSConfigForStream resolves TLSOptions into the single *tls.Config
// a plain (non-multiplexed) StreamListenerFactory.Bind needs, per the
// same static/handshake-callback split as BuildTLSFeatureBag. For the
// callback case it adapts the per-connection TLSHandshakeCallback into
// tls.Config.GetConfigForClient, the stdlib hook for exactly this purpose;
// the resulting TLSHandshakeContext has no Connection yet, since the
// connection doesn't exist until after the handshake completes.
func buildTLSConfigForStream(opts TLSOptions) *tls.Config {
	switch {
	case opts.Static != nil:
		return opts.Static
	case opts.Handshake != nil:
		handshake := opts.Handshake

		return &tls.Config{
			GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
				return handshake(&TLSHandshakeContext{ClientHello: hello})
			},
		}
	default:
		return nil
	}
}
