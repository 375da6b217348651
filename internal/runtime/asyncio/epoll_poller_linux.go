//go:build linux
// +build linux

package asyncio

import (
	"context"
	"errors"
	"io"
	"net"
)

// epollPoller wraps the goroutine-driven default poller on Linux. It keeps
// a platform-specific build tag for epoll, but there's no native epoll
// syscall wiring behind it yet, so registration delegates straight to
// goPoller.
type epollPoller struct{ Poller }

func newEpollPoller() Poller { return &epollPoller{Poller: NewDefaultPoller()} }

func (p *epollPoller) Start(ctx context.Context) error { return p.Poller.Start(ctx) }

func (p *epollPoller) Stop() error { return p.Poller.Stop() }

func (p *epollPoller) Register(conn net.Conn, kinds []EventType, h Handler) error {
	if conn == nil || h == nil {
		return errors.New("invalid registration")
	}

	return p.Poller.Register(conn, kinds, h)
}

func (p *epollPoller) Deregister(conn net.Conn) error { return p.Poller.Deregister(conn) }

// Reader delegates to the embedded goPoller's Reader rather than returning
// conn unchanged: this backend's readiness watcher peeks bytes through a
// bufio.Reader (see goPoller.watch), so a caller reading from conn directly
// would miss whatever that peek already pulled off the socket. A true epoll
// backend, which never consumes bytes to detect readiness, could return
// conn directly the way kqueuePoller.Reader does; this one can't until it
// stops delegating to goPoller.
func (p *epollPoller) Reader(conn net.Conn) io.Reader { return p.Poller.Reader(conn) }

// NewOSPoller (linux) returns the epoll-tagged poller.
func NewOSPoller() Poller { return newEpollPoller() }
