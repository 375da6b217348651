package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
)

// ConnectionDispatcher is the accept loop from §4.4: it reads from a
// listener's lazy accept sequence, assigns each materialized connection a
// monotonically increasing id, wraps it into a Connection, registers it
// with the endpoint's TransportConnectionManager, and runs the composed
// middleware chain on a worker.
type ConnectionDispatcher struct {
	listener StreamListener
	manager  *TransportConnectionManager
	delegate MiddlewareDelegate
	connOpts SocketConnectionOptions
	logger   Logger

	nextID atomic.Uint64
	done   chan struct{}
}

// NewConnectionDispatcher builds a dispatcher for one endpoint's listener.
func NewConnectionDispatcher(
	listener StreamListener,
	manager *TransportConnectionManager,
	delegate MiddlewareDelegate,
	connOpts SocketConnectionOptions,
	logger Logger,
) *ConnectionDispatcher {
	if logger == nil {
		logger = DefaultLogger()
	}

	return &ConnectionDispatcher{
		listener: listener,
		manager:  manager,
		delegate: delegate,
		connOpts: connOpts,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Done reports when every accept consumer has exited, per the stop
// protocol's "await its accept-loop task to complete" step (§4.7).
func (d *ConnectionDispatcher) Done() <-chan struct{} { return d.done }

// Run starts max-accepts concurrent consumers against the listener's token
// sequence and blocks until all of them exit (§4.3, §4.4, §5).
func (d *ConnectionDispatcher) Run(ctx context.Context) {
	defer close(d.done)

	cl := asConcurrentListener(d.listener)

	maxAccepts := cl.MaxAccepts()
	if maxAccepts <= 0 {
		maxAccepts = 1
	}

	var consumers sync.WaitGroup

	consumers.Add(maxAccepts)

	for i := 0; i < maxAccepts; i++ {
		go func() {
			defer consumers.Done()
			d.consume(ctx, cl)
		}()
	}

	consumers.Wait()
}

// consume pulls tokens from the shared sequence until it is exhausted or
// this consumer hits an accept failure, in which case it logs at critical
// level and exits — other consumers are unaffected (§4.4, §8 P5).
func (d *ConnectionDispatcher) consume(ctx context.Context, cl ConcurrentStreamListener) {
	for token := range cl.Tokens() {
		conn, err := token.Materialize(ctx)
		if err != nil {
			critical(d.logger, "accept failure", "error", err)

			return
		}

		if conn == nil {
			return
		}

		d.handleAccepted(ctx, conn)
	}
}

func (d *ConnectionDispatcher) handleAccepted(ctx context.Context, raw net.Conn) {
	id := d.nextID.Add(1)

	sc := NewSocketConnection(raw, d.connOpts)
	sc.Start(ctx, false)

	conn := NewConnection(id, sc, d.logger)
	done := make(chan struct{})

	d.manager.Add(id, conn, done)

	go d.execute(ctx, conn, done)
}

// execute is the per-connection execution task from §4.4: it runs the
// composed middleware delegate through Connection.Execute, which fires the
// on-completed callbacks once the delegate returns, then removes the
// connection from its manager, aborts and disposes it.
func (d *ConnectionDispatcher) execute(ctx context.Context, conn *Connection, done chan struct{}) {
	defer close(done)

	if err := conn.Execute(ctx, d.delegate); err != nil {
		conn.Logger().Error("connection middleware returned an error", "error", err)
	}

	d.manager.Remove(conn.ID)
	conn.Transport().Abort(nil)
	conn.Transport().Dispose()
}
