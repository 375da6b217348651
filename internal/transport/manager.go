package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orizon-lang/netcore/internal/runtime/asyncio"

	netcoreerrors "github.com/orizon-lang/netcore/internal/errors"
)

// ActiveTransport is the bound-endpoint record from §3 ("Active endpoint"):
// the listener, its running accept-loop dispatcher, its connection
// manager, and the configuration fingerprint used for reload diffing.
type ActiveTransport struct {
	id          uint64
	Endpoint    EndpointDescriptor
	Options     *ListenOptions
	Listener    StreamListener
	Dispatcher  *ConnectionDispatcher
	ConnManager *TransportConnectionManager
	Fingerprint string
}

// TransportManager is the registry of active endpoints and the bind/unbind
// orchestration surface from §4.7: an ordered list of stream factories, an
// ordered list of multiplexed factories, and the stop-endpoints/stop-all
// protocol.
type TransportManager struct {
	pool   *asyncio.BytePool
	poller asyncio.Poller
	logger Logger

	mu                   sync.Mutex
	streamFactories      []StreamListenerFactory
	multiplexedFactories []MultiplexedListenerFactory
	active               map[uint64]*ActiveTransport
	nextID               atomic.Uint64
}

// NewTransportManager returns an empty manager. pool and poller are shared
// across every connection this manager ever binds; poller may be nil to
// fall back to direct blocking reads.
func NewTransportManager(pool *asyncio.BytePool, poller asyncio.Poller, logger Logger) *TransportManager {
	if pool == nil {
		pool = asyncio.DefaultBytePool()
	}

	if logger == nil {
		logger = DefaultLogger()
	}

	return &TransportManager{
		pool:   pool,
		poller: poller,
		logger: logger,
		active: make(map[uint64]*ActiveTransport),
	}
}

// RegisterStreamFactory appends f to the ordered stream factory list.
func (m *TransportManager) RegisterStreamFactory(f StreamListenerFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFactories = append(m.streamFactories, f)
}

// RegisterMultiplexedFactory appends f to the ordered multiplexed factory
// list.
func (m *TransportManager) RegisterMultiplexedFactory(f MultiplexedListenerFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.multiplexedFactories = append(m.multiplexedFactories, f)
}

// Bind selects a stream factory for options.Endpoint, binds it, launches
// its accept loop, and returns the listener's effective endpoint (with the
// kernel-assigned port if applicable).
func (m *TransportManager) Bind(ctx context.Context, options *ListenOptions) (EndpointDescriptor, error) {
	m.mu.Lock()
	factories := append([]StreamListenerFactory(nil), m.streamFactories...)
	m.mu.Unlock()

	if len(factories) == 0 {
		return EndpointDescriptor{}, netcoreerrors.NoStreamFactoryRegistered()
	}

	factory, err := selectStreamFactory(factories, options.Endpoint)
	if err != nil {
		return EndpointDescriptor{}, err
	}

	listener, effective, err := factory.Bind(ctx, options.Endpoint, buildTLSConfigForStream(options.TLS))
	if err != nil {
		return EndpointDescriptor{}, netcoreerrors.BindFailed(options.Endpoint.String(), err)
	}

	at := m.launch(ctx, effective, options, listener, options.Build())

	return at.Endpoint, nil
}

// BindMultiplexed selects a multiplexed factory, builds the TLS feature bag
// (§4.7), binds it, launches its accept loop, and returns the effective
// endpoint.
func (m *TransportManager) BindMultiplexed(ctx context.Context, options *ListenOptions) (EndpointDescriptor, error) {
	m.mu.Lock()
	factories := append([]MultiplexedListenerFactory(nil), m.multiplexedFactories...)
	m.mu.Unlock()

	if len(factories) == 0 {
		return EndpointDescriptor{}, netcoreerrors.NoMultiplexedFactoryRegistered()
	}

	factory, err := selectMultiplexedFactory(factories, options.Endpoint)
	if err != nil {
		return EndpointDescriptor{}, err
	}

	featureBag := BuildTLSFeatureBag(options.TLS)

	listener, effective, err := factory.BindMultiplexed(ctx, options.Endpoint, featureBag)
	if err != nil {
		return EndpointDescriptor{}, netcoreerrors.BindFailed(options.Endpoint.String(), err)
	}

	at := m.launch(ctx, effective, options, listener, options.BuildMultiplexed())

	return at.Endpoint, nil
}

func (m *TransportManager) launch(
	ctx context.Context,
	effective EndpointDescriptor,
	options *ListenOptions,
	listener StreamListener,
	delegate MiddlewareDelegate,
) *ActiveTransport {
	connManager := NewTransportConnectionManager()
	connOpts := SocketConnectionOptions{
		Pool:        m.pool,
		Poller:      m.poller,
		WaitForData: m.poller != nil,
		Logger:      m.logger,
	}
	dispatcher := NewConnectionDispatcher(listener, connManager, delegate, connOpts, m.logger)

	at := &ActiveTransport{
		id:          m.nextID.Add(1),
		Endpoint:    effective,
		Options:     options,
		Listener:    listener,
		Dispatcher:  dispatcher,
		ConnManager: connManager,
		Fingerprint: options.Fingerprint,
	}

	m.mu.Lock()
	m.active[at.id] = at
	m.mu.Unlock()

	go dispatcher.Run(ctx)

	return at
}

func (m *TransportManager) matching(fingerprints []string) []*ActiveTransport {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*ActiveTransport, 0, len(m.active))

	for _, at := range m.active {
		if fingerprints == nil {
			out = append(out, at)

			continue
		}

		for _, fp := range fingerprints {
			if fp == at.Fingerprint {
				out = append(out, at)

				break
			}
		}
	}

	return out
}

func (m *TransportManager) removeAll(targets []*ActiveTransport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, at := range targets {
		delete(m.active, at.id)
	}
}

// StopAll runs the four-step stop protocol (§4.7) against every active
// transport.
func (m *TransportManager) StopAll(ctx context.Context, drainTimeout time.Duration) {
	m.stop(ctx, drainTimeout, nil)
}

// StopEndpoints runs the stop protocol against only the transports whose
// fingerprint is in fingerprints, used during runtime config reload to tear
// down just the changed endpoints (§4.7, §8 P7).
func (m *TransportManager) StopEndpoints(ctx context.Context, fingerprints []string, drainTimeout time.Duration) {
	m.stop(ctx, drainTimeout, fingerprints)
}

func (m *TransportManager) stop(ctx context.Context, drainTimeout time.Duration, fingerprints []string) {
	targets := m.matching(fingerprints)
	if len(targets) == 0 {
		return
	}

	runParallel(targets, func(at *ActiveTransport) {
		_ = at.Listener.Unbind(ctx)
		<-at.Dispatcher.Done()
	})

	runParallel(targets, func(at *ActiveTransport) {
		if at.ConnManager.CloseAllConnections(ctx, drainTimeout) {
			return
		}

		m.logger.Warn("not all connections closed gracefully", "endpoint", at.Endpoint.String())

		if !at.ConnManager.AbortAllConnections(ctx) {
			m.logger.Error("not all connections aborted", "endpoint", at.Endpoint.String())
		}
	})

	runParallel(targets, func(at *ActiveTransport) {
		_ = at.Listener.Close()
	})

	m.removeAll(targets)
}

func runParallel(targets []*ActiveTransport, fn func(*ActiveTransport)) {
	var wg sync.WaitGroup

	wg.Add(len(targets))

	for _, at := range targets {
		go func(at *ActiveTransport) {
			defer wg.Done()
			fn(at)
		}(at)
	}

	wg.Wait()
}
