package transport

import "context"

// MiddlewareDelegate is the composed per-connection completion function
// described in §6: it runs against an accepted connection and returns once
// that connection's application-level work is done.
type MiddlewareDelegate func(ctx context.Context, conn *Connection) error

// Middleware wraps a MiddlewareDelegate with another one, closing over
// whatever comes after it in the chain.
type Middleware func(next MiddlewareDelegate) MiddlewareDelegate

// terminalDelegate is the no-op delegate at the end of every composed
// chain; it completes immediately.
func terminalDelegate(ctx context.Context, conn *Connection) error { return nil }

// ComposeMiddleware builds one MiddlewareDelegate out of mws in
// registration order: the first-registered middleware ends up wrapping the
// terminal delegate directly, and each later middleware wraps the one
// before it, so invocation order runs last-registered first and the
// first-registered runs immediately before the terminal no-op.
func ComposeMiddleware(mws []Middleware) MiddlewareDelegate {
	chain := MiddlewareDelegate(terminalDelegate)

	for _, mw := range mws {
		chain = mw(chain)
	}

	return chain
}
