package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/bassosimone/safeconn"

	"github.com/orizon-lang/netcore/internal/runtime/asyncio"
	"github.com/orizon-lang/netcore/internal/transport/errclass"
)

// receiveChunkHint is the size requested from the pool when the receive loop
// reserves a buffer for a socket read (§4.2c: "at least half a pool block").
const receiveChunkHint = 2048

var (
	errGracefulSendLoopCompletion = errors.New("netcore: graceful send-loop completion")
	errConnectionReset            = errors.New("netcore: connection reset")
	errServerShutdown             = errors.New("netcore: server shutdown")
	errGracefulCloseRequested     = errors.New("netcore: graceful close requested")
)

// sender is the unit rented from a senderPool for one outbound write. A
// sender that witnesses a write error is never returned to the pool — it is
// retained on the connection and discarded at Dispose so a poisoned sender
// can't be handed to an unrelated connection (§5).
type sender struct{}

type senderPool struct {
	pool sync.Pool
}

func newSenderPool() *senderPool {
	return &senderPool{pool: sync.Pool{New: func() any { return &sender{} }}}
}

func (p *senderPool) rent() *sender        { return p.pool.Get().(*sender) }
func (p *senderPool) release(s *sender)    { p.pool.Put(s) }
func (p *senderPool) discard(s *sender)    { _ = s }

// SocketConnectionOptions configures a new SocketConnection.
type SocketConnectionOptions struct {
	Pool        *asyncio.BytePool
	Poller      asyncio.Poller
	WaitForData bool
	ReceivePipe PipeOptions
	SendPipe    PipeOptions
	Logger      Logger
}

// SocketConnection binds one accepted socket to a duplex pipe pair and
// drives its full lifetime: receive loop, send loop, and shutdown (§4.2).
// Exactly one receive task and one send task run per connection; the
// shutdown lock makes teardown idempotent and records the first error that
// reaches it as the connection's shutdown reason.
type SocketConnection struct {
	conn   net.Conn
	pool   *asyncio.BytePool
	poller asyncio.Poller

	waitForData bool
	pipes       *DuplexPipePair
	senderPool  *senderPool
	logger      Logger

	localEndpoint  EndpointDescriptor
	remoteEndpoint EndpointDescriptor

	shutdownMu     sync.Mutex
	shutdownReason error
	disposed       bool
	rentedSender   *sender

	// readyMu/readyCh/readyErr back awaitReadable: the poller registration
	// lives for the connection's whole lifetime (one Register at Start,
	// one Deregister at shutdown) rather than per read, so the same
	// underlying reader the poller peeks through is also what the receive
	// loop reads from (see asyncio.Poller.Reader).
	readyMu  sync.Mutex
	readyCh  chan struct{}
	readyErr error

	// reader is where receiveLoop actually reads bytes from. It is set to
	// poller.Reader(conn) once registerPoller succeeds, so any bytes the
	// poller's readability probe buffered ahead of the caller are drained
	// through the same buffer rather than lost to a direct conn.Read.
	reader io.Reader

	loopWG sync.WaitGroup

	closeOnce  sync.Once
	closeLatch chan struct{}

	connectionClosedCtx context.Context
	closeCancel         context.CancelCauseFunc
}

// NewSocketConnection wraps conn in a SocketConnection, ready for Start.
func NewSocketConnection(conn net.Conn, opts SocketConnectionOptions) *SocketConnection {
	if opts.Pool == nil {
		opts.Pool = asyncio.DefaultBytePool()
	}

	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}

	receiveOpts := opts.ReceivePipe
	receiveOpts.Pool = opts.Pool
	sendOpts := opts.SendPipe
	sendOpts.Pool = opts.Pool

	closedCtx, cancel := context.WithCancelCause(context.Background())

	return &SocketConnection{
		conn:                conn,
		pool:                opts.Pool,
		poller:              opts.Poller,
		waitForData:         opts.WaitForData,
		pipes:               NewDuplexPipePair(receiveOpts, sendOpts),
		senderPool:          newSenderPool(),
		logger:              opts.Logger,
		localEndpoint:       addrToEndpoint(safeconn.Network(conn), safeconn.LocalAddr(conn)),
		remoteEndpoint:      addrToEndpoint(safeconn.Network(conn), safeconn.RemoteAddr(conn)),
		readyCh:             make(chan struct{}, 1),
		reader:              conn,
		connectionClosedCtx: closedCtx,
		closeCancel:         cancel,
	}
}

// addrToEndpoint parses the string form safeconn returns (nil-safe even
// against a half-torn-down or nil-wrapped net.Conn) into an
// EndpointDescriptor.
func addrToEndpoint(network, addr string) EndpointDescriptor {
	if network == "unix" {
		return NewUnixEndpoint(addr)
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return NewUnixEndpoint(addr)
	}

	port, _ := strconv.Atoi(portStr)

	return NewIPEndpoint(net.ParseIP(host), port)
}

// LocalEndpoint returns the captured local socket address.
func (s *SocketConnection) LocalEndpoint() EndpointDescriptor { return s.localEndpoint }

// RemoteEndpoint returns the captured remote socket address.
func (s *SocketConnection) RemoteEndpoint() EndpointDescriptor { return s.remoteEndpoint }

// ApplicationInput is the reader middleware uses to observe bytes received
// from the peer.
func (s *SocketConnection) ApplicationInput() *PipeReader { return s.pipes.ApplicationInput }

// ApplicationOutput is the writer middleware uses to send bytes to the peer.
func (s *SocketConnection) ApplicationOutput() *PipeWriter { return s.pipes.ApplicationOutput }

// ConnectionClosed is raised exactly once: after the receive loop has
// completed its final flush and recorded any error (§5), or earlier, when
// SignalClosing requests a graceful close.
func (s *SocketConnection) ConnectionClosed() <-chan struct{} {
	return s.connectionClosedCtx.Done()
}

// ConnectionClosedCause reports the reason ConnectionClosed was raised.
func (s *SocketConnection) ConnectionClosedCause() error {
	return context.Cause(s.connectionClosedCtx)
}

// Start spawns the receive and send loops. flushImmediately is true when
// bytes were delivered alongside accept and should be flushed without
// waiting for a first read.
func (s *SocketConnection) Start(ctx context.Context, flushImmediately bool) {
	if s.waitForData && s.poller != nil {
		s.registerPoller()
	}

	s.loopWG.Add(2)

	go s.receiveLoop(ctx, flushImmediately)
	go s.sendLoop(ctx)
}

// registerPoller registers this connection's socket with the poller exactly
// once for the connection's lifetime (paired with deregisterPoller at
// shutdown), so the peek buffer the poller probes through is the same one
// the receive loop reads from.
func (s *SocketConnection) registerPoller() {
	err := s.poller.Register(s.conn, []asyncio.EventType{asyncio.Readable}, func(ev asyncio.Event) {
		if ev.Type == asyncio.Error {
			s.signalReady(ev.Err)

			return
		}

		s.signalReady(nil)
	})
	if err != nil {
		s.poller = nil

		return
	}

	s.reader = s.poller.Reader(s.conn)
}

func (s *SocketConnection) deregisterPoller() {
	if s.poller == nil {
		return
	}

	_ = s.poller.Deregister(s.conn)
}

func (s *SocketConnection) signalReady(err error) {
	s.readyMu.Lock()

	if err != nil && s.readyErr == nil {
		s.readyErr = err
	}

	select {
	case s.readyCh <- struct{}{}:
	default:
	}

	s.readyMu.Unlock()
}

func (s *SocketConnection) isDisposed() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	return s.disposed
}

func (s *SocketConnection) currentShutdownReason() error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	return s.shutdownReason
}

// shutdown is guarded by the shutdown lock and idempotent. The
// socket-disposed flag flips before the socket is closed so the peer loop's
// next syscall is classified as an expected abort rather than unexpected.
func (s *SocketConnection) shutdown(reason error) {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.disposed {
		return
	}

	s.disposed = true

	if reason == nil {
		reason = errGracefulSendLoopCompletion
	}

	s.shutdownReason = reason

	type halfCloser interface {
		CloseRead() error
		CloseWrite() error
	}

	if hc, ok := s.conn.(halfCloser); ok {
		_ = hc.CloseRead()
		_ = hc.CloseWrite()
	}

	_ = s.conn.Close()

	s.deregisterPoller()
}

// Abort tears the socket down and wakes the send loop if it is suspended
// waiting for application data.
func (s *SocketConnection) Abort(reason error) {
	s.shutdown(reason)
	s.pipes.TransportInput.CancelPendingRead()
}

// SignalClosing raises ConnectionClosed without tearing down the socket or
// canceling either loop, per §4.5's close-all-connections step ("mark
// every current connection for graceful shutdown"): middleware blocked on
// <-ConnectionClosed() can return, after which the connection's own
// execution task calls Abort and Dispose once its delegate actually
// finishes. Unlike Abort, a connection whose middleware keeps running
// past this call is unaffected — its receive/send loops are untouched.
func (s *SocketConnection) SignalClosing() {
	s.signalConnectionClosedOnce(errGracefulCloseRequested)
}

// classifyLoopError applies the Reset/Abort/Unexpected bucketing from §4.2
// and returns the error that should be recorded as the loop's outcome.
func (s *SocketConnection) classifyLoopError(err error) error {
	disposed := s.isDisposed()

	switch errclass.Classify(err) {
	case errclass.Reset:
		if !disposed {
			s.logger.Info("connection reset by peer", "remote", s.remoteEndpoint.String())
		}

		return errConnectionReset
	case errclass.Abort, errclass.EOF:
		if !disposed {
			s.logger.Warn("unexpected socket teardown", "error", err)
		}

		return nil
	default:
		s.logger.Error("unexpected transport error", "error", err)

		return err
	}
}

// receiveLoop implements §4.2's receive loop: flush-then-read-then-advance,
// classifying terminal errors and completing the receive pipe exactly once
// before signaling connection-closed.
func (s *SocketConnection) receiveLoop(ctx context.Context, flushImmediately bool) {
	defer s.loopWG.Done()

	var loopErr error

	producedBytes := flushImmediately

	for {
		if producedBytes {
			canceled, ferr := s.pipes.TransportOutput.Flush(ctx)
			if ferr != nil {
				loopErr = ferr

				break
			}

			if canceled {
				break
			}
		}

		if s.waitForData {
			if err := s.awaitReadable(ctx); err != nil {
				loopErr = s.classifyLoopError(err)

				break
			}
		}

		buf := s.pipes.TransportOutput.Reserve(receiveChunkHint)

		n, err := s.reader.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("connection received FIN", "remote", s.remoteEndpoint.String())

				break
			}

			loopErr = s.classifyLoopError(err)

			break
		}

		if n == 0 {
			s.logger.Debug("connection received FIN", "remote", s.remoteEndpoint.String())

			break
		}

		s.pipes.TransportOutput.Commit(n)
		producedBytes = true
	}

	s.shutdown(loopErr)
	s.pipes.TransportOutput.Complete(s.currentShutdownReason())
	s.fireConnectionClosedAndWait()
}

// awaitReadable suspends until the socket is readable, using the poller so
// no goroutine is allocated per read (§4.2b). The registration made once in
// registerPoller lives for the connection's whole lifetime; this only waits
// on the shared readiness channel it feeds. A nil poller degrades to a
// direct blocking read on the next loop iteration.
func (s *SocketConnection) awaitReadable(ctx context.Context) error {
	if s.poller == nil {
		return nil
	}

	s.readyMu.Lock()
	err := s.readyErr
	s.readyMu.Unlock()

	if err != nil {
		return err
	}

	select {
	case <-s.readyCh:
		s.readyMu.Lock()
		err := s.readyErr
		s.readyMu.Unlock()

		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendLoop implements §4.2's send loop: read from the send pipe, write the
// whole buffer to the socket, advance, and classify terminal errors.
func (s *SocketConnection) sendLoop(ctx context.Context) {
	defer s.loopWG.Done()

	var loopErr error

	for {
		data, canceled, completed, err := s.pipes.TransportInput.Read(ctx)
		if canceled {
			break
		}

		if len(data) > 0 {
			snd := s.senderPool.rent()

			if _, werr := s.conn.Write(data); werr != nil {
				loopErr = s.classifyLoopError(werr)
				s.rentedSender = snd
				s.pipes.TransportInput.Advance(len(data))

				break
			}

			s.senderPool.release(snd)
		}

		s.pipes.TransportInput.Advance(len(data))

		if completed {
			loopErr = err

			break
		}
	}

	s.shutdown(loopErr)
	s.pipes.TransportInput.Complete(s.currentShutdownReason())
	s.pipes.TransportOutput.CancelPendingFlush()
}

// signalConnectionClosedOnce schedules connection-closed cancellation on a
// worker (never inline on the caller's own stack, so a slow connection-
// close observer can't stall the receive loop's return) exactly once,
// regardless of which caller — the receive loop finishing, or a graceful
// SignalClosing request — gets there first.
func (s *SocketConnection) signalConnectionClosedOnce(reason error) {
	s.closeOnce.Do(func() {
		latch := make(chan struct{})
		s.closeLatch = latch

		go func() {
			s.closeCancel(reason)
			close(latch)
		}()
	})
}

// fireConnectionClosedAndWait is the receive loop's own call into
// signalConnectionClosedOnce (§4.2 "Fire-connection-closed"), waiting for
// whichever caller won the race to finish.
func (s *SocketConnection) fireConnectionClosedAndWait() {
	s.signalConnectionClosedOnce(s.currentShutdownReason())

	<-s.closeLatch
}

// Dispose must only be called after middleware has completed. It completes
// the application-side pipes (so a send loop still waiting for data ends
// and shuts the socket down), awaits both loops, discards any poisoned
// sender, and releases the connection-closed cancellation source.
func (s *SocketConnection) Dispose() {
	s.pipes.ApplicationInput.Complete(nil)
	s.pipes.ApplicationOutput.Complete(nil)
	s.loopWG.Wait()

	if s.rentedSender != nil {
		s.senderPool.discard(s.rentedSender)
		s.rentedSender = nil
	}

	s.closeCancel(s.currentShutdownReason())
}
