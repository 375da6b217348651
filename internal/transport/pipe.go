package transport

import (
	"context"
	"sync"

	"github.com/orizon-lang/netcore/internal/runtime/asyncio"
)

const defaultChunkSize = 4096

// PipeOptions configures one direction of a DuplexPipePair, per §4.1:
// buffer pool, high/low watermarks, scheduler for continuations. The
// scheduler hook is intentionally absent here — Go goroutines already
// suspend on blocking receive/select without a continuation-passing
// scheduler, so the only thing worth configuring is where buffers come
// from and where the backpressure thresholds sit.
type PipeOptions struct {
	Pool          *asyncio.BytePool
	HighWatermark int64
	LowWatermark  int64
}

func (o PipeOptions) normalized() PipeOptions {
	if o.Pool == nil {
		o.Pool = asyncio.DefaultBytePool()
	}

	if o.HighWatermark <= 0 {
		o.HighWatermark = 64 * 1024
	}

	if o.LowWatermark <= 0 || o.LowWatermark > o.HighWatermark {
		o.LowWatermark = o.HighWatermark / 2
	}

	return o
}

// pipe is a single-direction, in-memory byte channel with backpressure and
// cancelable suspension points (§4.1). A DuplexPipePair wires two of these
// together so that writes on one side become reads on the other.
type pipe struct {
	mu       sync.Mutex
	notifyCh chan struct{}

	pool *asyncio.BytePool
	high int64
	low  int64

	reserved  []byte
	queue     [][]byte
	unreadLen int64

	writerCompleted bool
	readerCompleted bool
	completeErr     error

	flushCancel bool
	readCancel  bool
}

func newPipe(pool *asyncio.BytePool, high, low int64) *pipe {
	return &pipe{pool: pool, high: high, low: low, notifyCh: make(chan struct{})}
}

// wake unblocks every goroutine currently selecting on notifyCh. Must be
// called with mu held.
func (p *pipe) wake() {
	close(p.notifyCh)
	p.notifyCh = make(chan struct{})
}

// Reserve returns a buffer of at least sizeHint bytes (rounded up to the
// pool's bucket size) for the caller to fill before calling Commit. Only
// one reservation may be outstanding at a time, matching the single
// receive-loop / single send-loop ownership invariant (§3 Socket connection
// invariant i).
func (p *pipe) Reserve(sizeHint int) []byte {
	if sizeHint <= 0 {
		sizeHint = defaultChunkSize
	}

	buf := p.pool.Get(sizeHint)
	buf = buf[:cap(buf)]

	p.mu.Lock()
	p.reserved = buf
	p.mu.Unlock()

	return buf
}

// Commit publishes the first n bytes of the most recently reserved buffer
// to the reader side. Equivalent to PipeWriter.Advance in the design this
// is modeled on.
func (p *pipe) Commit(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= 0 || p.reserved == nil {
		p.reserved = nil

		return
	}

	chunk := p.reserved[:n]
	p.reserved = nil
	p.queue = append(p.queue, chunk)
	p.unreadLen += int64(n)
	p.wake()
}

// Flush returns at once while the unread byte count is at or below the high
// watermark. Otherwise it suspends (backpressure) until a wake finds the
// count back at or below the high watermark (Advance only wakes it once the
// count drops to the low watermark or below), until the reader completes, or
// until canceled via CancelPendingFlush or ctx.
func (p *pipe) Flush(ctx context.Context) (canceled bool, err error) {
	for {
		p.mu.Lock()

		if p.flushCancel {
			p.flushCancel = false
			p.mu.Unlock()

			return true, nil
		}

		if p.readerCompleted {
			err = p.completeErr
			p.mu.Unlock()

			return false, err
		}

		if p.unreadLen <= p.high {
			p.mu.Unlock()

			return false, nil
		}

		ch := p.notifyCh
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// CancelPendingFlush wakes a suspended Flush call with a canceled result.
// If no Flush is currently suspended, the next call to Flush returns
// canceled immediately instead (one-shot flag, consistent with the
// Pipelines convention this is modeled on).
func (p *pipe) CancelPendingFlush() {
	p.mu.Lock()
	p.flushCancel = true
	p.wake()
	p.mu.Unlock()
}

// Read returns the next unread chunk without consuming it; the caller must
// call Advance with however many bytes it consumed. completed is true once
// the writer has completed and no unread data remains, in which case err is
// the writer's completion error (possibly nil for a clean FIN).
func (p *pipe) Read(ctx context.Context) (data []byte, canceled, completed bool, err error) {
	for {
		p.mu.Lock()

		if p.readCancel {
			p.readCancel = false
			p.mu.Unlock()

			return nil, true, false, nil
		}

		if len(p.queue) > 0 {
			head := p.queue[0]
			p.mu.Unlock()

			return head, false, false, nil
		}

		if p.writerCompleted {
			err = p.completeErr
			p.mu.Unlock()

			return nil, false, true, err
		}

		ch := p.notifyCh
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, false, false, ctx.Err()
		}
	}
}

// Advance marks n bytes of the previously returned chunk as consumed,
// returning fully-consumed buffers to the pool and waking any Flush
// suspended on backpressure once the unread length drops to the low
// watermark or below.
func (p *pipe) Advance(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := n
	for remaining > 0 && len(p.queue) > 0 {
		head := p.queue[0]
		if remaining >= len(head) {
			remaining -= len(head)
			p.unreadLen -= int64(len(head))
			p.queue = p.queue[1:]
			p.pool.Put(head[:0:cap(head)])
		} else {
			p.queue[0] = head[remaining:]
			p.unreadLen -= int64(remaining)
			remaining = 0
		}
	}

	if p.unreadLen <= p.low {
		p.wake()
	}
}

// CancelPendingRead wakes a suspended Read call with a canceled result.
func (p *pipe) CancelPendingRead() {
	p.mu.Lock()
	p.readCancel = true
	p.wake()
	p.mu.Unlock()
}

// CompleteWriter signals that no more data will be written. err, if
// non-nil, is surfaced to the reader once the remaining buffered data is
// drained.
func (p *pipe) CompleteWriter(err error) {
	p.mu.Lock()
	p.writerCompleted = true

	if p.completeErr == nil {
		p.completeErr = err
	}

	p.wake()
	p.mu.Unlock()
}

// CompleteReader signals that the reader will not consume any more data,
// unblocking a writer suspended in Flush.
func (p *pipe) CompleteReader(err error) {
	p.mu.Lock()
	p.readerCompleted = true

	if p.completeErr == nil {
		p.completeErr = err
	}

	p.wake()
	p.mu.Unlock()
}

// PipeWriter is the producer-facing view of one direction of a
// DuplexPipePair.
type PipeWriter struct{ p *pipe }

func (w *PipeWriter) Reserve(sizeHint int) []byte             { return w.p.Reserve(sizeHint) }
func (w *PipeWriter) Commit(n int)                             { w.p.Commit(n) }
func (w *PipeWriter) Flush(ctx context.Context) (bool, error) { return w.p.Flush(ctx) }
func (w *PipeWriter) CancelPendingFlush()                      { w.p.CancelPendingFlush() }
func (w *PipeWriter) Complete(err error)                       { w.p.CompleteWriter(err) }

// PipeReader is the consumer-facing view of one direction of a
// DuplexPipePair.
type PipeReader struct{ p *pipe }

func (r *PipeReader) Read(ctx context.Context) ([]byte, bool, bool, error) { return r.p.Read(ctx) }
func (r *PipeReader) Advance(n int)                                        { r.p.Advance(n) }
func (r *PipeReader) CancelPendingRead()                                   { r.p.CancelPendingRead() }
func (r *PipeReader) Complete(err error)                                   { r.p.CompleteReader(err) }

// DuplexPipePair is the construct described in §4.1: two logical
// directions, each with a writer on one side and a reader on the other.
// TransportOutput/ApplicationInput is the receive direction (socket bytes
// flowing to the application); ApplicationOutput/TransportInput is the
// send direction (application bytes flowing to the socket).
type DuplexPipePair struct {
	TransportOutput   *PipeWriter
	ApplicationInput  *PipeReader
	ApplicationOutput *PipeWriter
	TransportInput    *PipeReader
}

// NewDuplexPipePair builds a pipe pair using independent options for the
// receive and send directions.
func NewDuplexPipePair(receiveOpts, sendOpts PipeOptions) *DuplexPipePair {
	receiveOpts = receiveOpts.normalized()
	sendOpts = sendOpts.normalized()

	receive := newPipe(receiveOpts.Pool, receiveOpts.HighWatermark, receiveOpts.LowWatermark)
	send := newPipe(sendOpts.Pool, sendOpts.HighWatermark, sendOpts.LowWatermark)

	return &DuplexPipePair{
		TransportOutput:   &PipeWriter{receive},
		ApplicationInput:  &PipeReader{receive},
		ApplicationOutput: &PipeWriter{send},
		TransportInput:    &PipeReader{send},
	}
}
