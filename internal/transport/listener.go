package transport

import (
	"context"
	"net"
)

// StreamListener is the single-accept shape from §4.3: accept one
// connection at a time, or nil with no error once the listener has been
// unbound.
type StreamListener interface {
	Accept(ctx context.Context) (net.Conn, error)
	Unbind(ctx context.Context) error
	Close() error
}

// AcceptToken is an opaque, lazily-materialized accept result from a
// ConcurrentStreamListener's token sequence.
type AcceptToken interface {
	Materialize(ctx context.Context) (net.Conn, error)
}

type tokenFunc func(ctx context.Context) (net.Conn, error)

func (f tokenFunc) Materialize(ctx context.Context) (net.Conn, error) { return f(ctx) }

// ConcurrentStreamListener additionally exposes a lazy, multi-consumer
// sequence of accept tokens and a max-accepts hint (§4.3). Multiple
// dispatcher consumers may read from Tokens concurrently without
// materializing more connections than accepted.
type ConcurrentStreamListener interface {
	StreamListener
	MaxAccepts() int
	Tokens() <-chan AcceptToken
}

// asConcurrentListener returns l unchanged if it already implements
// ConcurrentStreamListener, otherwise wraps it in a fallback adapter that
// turns single-accept into a lazy sequence by looping on Accept (§4.3).
func asConcurrentListener(l StreamListener) ConcurrentStreamListener {
	if cl, ok := l.(ConcurrentStreamListener); ok {
		return cl
	}

	return newFallbackListener(l)
}

// fallbackListener adapts a StreamListener into a ConcurrentStreamListener
// with MaxAccepts() == 1: exactly the single-consumer shape the reference
// always exhibits for non-natively-concurrent listeners.
type fallbackListener struct {
	StreamListener
	tokens chan AcceptToken
	stopCh chan struct{}
}

func newFallbackListener(l StreamListener) *fallbackListener {
	f := &fallbackListener{StreamListener: l, tokens: make(chan AcceptToken), stopCh: make(chan struct{})}
	go f.pump()

	return f
}

func (f *fallbackListener) pump() {
	defer close(f.tokens)

	for {
		conn, err := f.StreamListener.Accept(context.Background())
		if err != nil {
			select {
			case f.tokens <- tokenFunc(func(context.Context) (net.Conn, error) { return nil, err }):
			case <-f.stopCh:
			}

			return
		}

		if conn == nil {
			return
		}

		select {
		case f.tokens <- tokenFunc(func(context.Context) (net.Conn, error) { return conn, nil }):
		case <-f.stopCh:
			_ = conn.Close()

			return
		}
	}
}

func (f *fallbackListener) MaxAccepts() int { return 1 }

func (f *fallbackListener) Tokens() <-chan AcceptToken { return f.tokens }

func (f *fallbackListener) Unbind(ctx context.Context) error {
	err := f.StreamListener.Unbind(ctx)
	close(f.stopCh)

	return err
}
