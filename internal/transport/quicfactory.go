package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	quic "github.com/quic-go/quic-go"

	netcoreerrors "github.com/orizon-lang/netcore/internal/errors"
)

// QUICListenerFactory is the multiplexed transport factory from §4.7/§6.
// It binds a raw quic.Listener and yields connections adapted to the base
// connection shape (one bidirectional stream per accepted quic.Connection)
// rather than wrapping http3.Server, since HTTP/3 wire parsing is out of
// scope (§1).
type QUICListenerFactory struct {
	// Config is passed to quic.ListenAddr; nil uses quic-go's defaults.
	Config *quic.Config
}

var _ MultiplexedListenerFactory = QUICListenerFactory{}
var _ FactorySelector = QUICListenerFactory{}

// CanBind accepts only IP endpoints; Unix and file-handle endpoints have no
// UDP analogue.
func (QUICListenerFactory) CanBind(endpoint EndpointDescriptor) bool {
	return endpoint.Kind == EndpointIP
}

// BindMultiplexed requires the feature bag to carry a TLS handshake
// feature (§4.7): an empty bag is rejected here, valid only for the
// in-memory test factory.
func (f QUICListenerFactory) BindMultiplexed(
	ctx context.Context,
	endpoint EndpointDescriptor,
	features *FeatureBag,
) (StreamListener, EndpointDescriptor, error) {
	tlsFeature, ok := TLSFeatureFrom(features)
	if !ok {
		return nil, EndpointDescriptor{}, netcoreerrors.MissingTLSForProduction(endpoint.String())
	}

	tlsConf, err := tlsFeature.OnConnection(&TLSHandshakeContext{})
	if err != nil {
		return nil, EndpointDescriptor{}, err
	}

	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = tlsFeature.ApplicationProtocols
	}

	if tlsConf.MinVersion < tls.VersionTLS13 {
		tlsConf.MinVersion = tls.VersionTLS13
	}

	ln, err := quic.ListenAddr(endpoint.Address(), tlsConf, f.Config)
	if err != nil {
		return nil, EndpointDescriptor{}, err
	}

	effective := endpoint

	if udpAddr, ok := ln.Addr().(*net.UDPAddr); ok {
		effective = endpoint.CloneForIP(udpAddr.IP)
		effective.Port = udpAddr.Port
	}

	effective.TLS = true

	return &quicListener{ln: ln}, effective, nil
}

// quicListener adapts a quic.Listener to the StreamListener contract. Each
// accepted quic.Connection yields exactly one stream, adapted to net.Conn;
// additional streams on the same QUIC connection are out of scope (§1).
type quicListener struct {
	ln *quic.Listener

	closeOnce sync.Once
	closing   atomic.Bool
}

func (l *quicListener) Accept(ctx context.Context) (net.Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		if l.closing.Load() {
			return nil, nil
		}

		return nil, err
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream accept failed")

		if l.closing.Load() {
			return nil, nil
		}

		return nil, err
	}

	return &quicStreamConn{conn: conn, stream: stream}, nil
}

func (l *quicListener) Unbind(ctx context.Context) error { return l.shutdown() }

func (l *quicListener) Close() error { return l.shutdown() }

func (l *quicListener) shutdown() error {
	var err error

	l.closeOnce.Do(func() {
		l.closing.Store(true)
		err = l.ln.Close()
	})

	return err
}

// quicStreamConn adapts one quic.Connection plus its first accepted
// bidirectional stream to net.Conn, the "base connection shape" multiplexed
// connections expose (§6).
type quicStreamConn struct {
	conn   *quic.Conn
	stream *quic.Stream
}

func (c *quicStreamConn) Read(b []byte) (int, error)  { return c.stream.Read(b) }
func (c *quicStreamConn) Write(b []byte) (int, error) { return c.stream.Write(b) }

func (c *quicStreamConn) Close() error {
	werr := c.stream.Close()
	_ = c.conn.CloseWithError(0, "")

	return werr
}

func (c *quicStreamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicStreamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *quicStreamConn) SetDeadline(t time.Time) error { return c.stream.SetDeadline(t) }

func (c *quicStreamConn) SetReadDeadline(t time.Time) error { return c.stream.SetReadDeadline(t) }

func (c *quicStreamConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }
