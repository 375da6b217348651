package transport

import (
	"context"
	"sync"
)

// onCompletedEntry pairs a registered callback with the opaque state it was
// registered with.
type onCompletedEntry struct {
	callback func(state any) error
	state    any
}

// completeFeature is the connection-complete capability described in §4.4:
// middleware registers (callback, state) pairs; all of them run exactly
// once, in reverse registration order, after the middleware chain returns.
type completeFeature struct {
	mu        sync.Mutex
	callbacks []onCompletedEntry
}

func (f *completeFeature) OnCompleted(callback func(state any) error, state any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, onCompletedEntry{callback: callback, state: state})
}

// runAll invokes every registered callback in reverse order. A callback
// that panics or returns an error is logged with a fixed message and does
// not prevent the remaining callbacks from running.
func (f *completeFeature) runAll(logger Logger) {
	f.mu.Lock()
	callbacks := f.callbacks
	f.mu.Unlock()

	const callbackErrorMessage = "An error occurred running an IConnectionCompleteFeature.OnCompleted callback."

	for i := len(callbacks) - 1; i >= 0; i-- {
		entry := callbacks[i]

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(callbackErrorMessage, "panic", r)
				}
			}()

			if err := entry.callback(entry.state); err != nil {
				logger.Error(callbackErrorMessage, "error", err)
			}
		}()
	}
}

// Connection is the per-accepted-connection record from §3: a numeric id
// unique within its endpoint, the raw transport connection, a feature bag
// carrying the on-completed capability, and a logging scope keyed by id.
type Connection struct {
	ID        uint64
	transport *SocketConnection
	features  *FeatureBag
	complete  *completeFeature
	logger    Logger
}

// NewConnection wraps transport into a Connection identified by id.
func NewConnection(id uint64, transport *SocketConnection, logger Logger) *Connection {
	features := NewFeatureBag()
	complete := &completeFeature{}
	features.Set(featureKeyOnCompleted, complete)
	features.Set(featureKeyConnectionID, id)
	features.Set(featureKeyLocalRemote, [2]EndpointDescriptor{transport.LocalEndpoint(), transport.RemoteEndpoint()})

	return &Connection{
		ID:        id,
		transport: transport,
		features:  features,
		complete:  complete,
		logger:    newScopedLogger(logger, id),
	}
}

// Transport returns the underlying socket connection.
func (c *Connection) Transport() *SocketConnection { return c.transport }

// Features returns the connection's capability bag.
func (c *Connection) Features() *FeatureBag { return c.features }

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() Logger { return c.logger }

// OnCompleted registers a callback to run once the middleware chain
// returns, before the connection is removed from its manager.
func (c *Connection) OnCompleted(callback func(state any) error, state any) {
	c.complete.OnCompleted(callback, state)
}

// Execute runs the composed middleware delegate against this connection,
// then fires every on-completed callback, regardless of whether the
// delegate returned an error.
func (c *Connection) Execute(ctx context.Context, delegate MiddlewareDelegate) error {
	err := delegate(ctx, c)
	c.complete.runAll(c.logger)

	return err
}
