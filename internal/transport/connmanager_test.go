package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func addLiveConnection(t *testing.T, m *TransportConnectionManager, id uint64) (*Connection, chan struct{}) {
	t.Helper()

	server, _ := net.Pipe()
	sc := NewSocketConnection(server, SocketConnectionOptions{})
	sc.Start(context.Background(), false)

	conn := NewConnection(id, sc, nil)
	done := make(chan struct{})
	m.Add(id, conn, done)

	return conn, done
}

func TestTransportConnectionManagerCountTracksAddRemove(t *testing.T) {
	m := NewTransportConnectionManager()

	if got := m.Count(); got != 0 {
		t.Fatalf("got Count()=%d, want 0", got)
	}

	conn, done := addLiveConnection(t, m, 1)

	if got := m.Count(); got != 1 {
		t.Fatalf("got Count()=%d, want 1", got)
	}

	m.Remove(1)

	if got := m.Count(); got != 0 {
		t.Fatalf("got Count()=%d, want 0 after Remove", got)
	}

	close(done)
	conn.Transport().Abort(nil)
	conn.Transport().Dispose()
}

func TestCloseAllConnectionsWaitsForExecutionTasks(t *testing.T) {
	m := NewTransportConnectionManager()

	conn, done := addLiveConnection(t, m, 1)

	go func() {
		<-conn.Transport().ConnectionClosed()
		conn.Transport().Dispose()
		close(done)
	}()

	ok := m.CloseAllConnections(context.Background(), time.Second)
	if !ok {
		t.Fatal("expected CloseAllConnections to report all connections closed within the deadline")
	}
}

func TestCloseAllConnectionsReturnsFalseOnTimeout(t *testing.T) {
	m := NewTransportConnectionManager()

	server, _ := net.Pipe()
	sc := NewSocketConnection(server, SocketConnectionOptions{})
	sc.Start(context.Background(), false)

	conn := NewConnection(1, sc, nil)
	done := make(chan struct{}) // deliberately never closed

	m.Add(1, conn, done)

	ok := m.CloseAllConnections(context.Background(), 20*time.Millisecond)
	if ok {
		t.Fatal("expected CloseAllConnections to time out when the execution task never completes")
	}

	conn.Transport().Abort(nil)
	conn.Transport().Dispose()
}

func TestCloseAllConnectionsIsNoopWhenEmpty(t *testing.T) {
	m := NewTransportConnectionManager()

	if !m.CloseAllConnections(context.Background(), time.Millisecond) {
		t.Fatal("expected CloseAllConnections on an empty manager to report success immediately")
	}
}

func TestAbortAllConnectionsWaitsForExecutionTasks(t *testing.T) {
	m := NewTransportConnectionManager()

	conn, done := addLiveConnection(t, m, 1)

	go func() {
		<-conn.Transport().ConnectionClosed()
		conn.Transport().Dispose()
		close(done)
	}()

	ok := m.AbortAllConnections(context.Background())
	if !ok {
		t.Fatal("expected AbortAllConnections to report all connections aborted")
	}

	if got := conn.Transport().ConnectionClosedCause(); got == nil {
		t.Fatal("expected a non-nil shutdown cause after AbortAllConnections")
	}
}
