package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func newTestSocketConnection(t *testing.T, conn net.Conn, waitForData bool) *SocketConnection {
	t.Helper()

	sc := NewSocketConnection(conn, SocketConnectionOptions{WaitForData: waitForData})
	sc.Start(context.Background(), false)

	return sc
}

func TestSocketConnectionEchoesApplicationBytes(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sc := newTestSocketConnection(t, server, false)
	defer sc.Dispose()

	go func() {
		client.SetDeadline(time.Now().Add(2 * time.Second))
		client.Write([]byte("ping"))
	}()

	data, canceled, completed, err := sc.ApplicationInput().Read(context.Background())
	if canceled || completed || err != nil {
		t.Fatalf("unexpected read result: canceled=%v completed=%v err=%v", canceled, completed, err)
	}

	if string(data) != "ping" {
		t.Fatalf("got %q, want %q", data, "ping")
	}

	sc.ApplicationInput().Advance(len(data))

	buf := sc.ApplicationOutput().Reserve(8)
	copy(buf, []byte("pong"))
	sc.ApplicationOutput().Commit(4)

	go func() {
		sc.ApplicationOutput().Flush(context.Background())
	}()

	reply := make([]byte, 4)
	client.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := readFull(client, reply); err != nil {
		t.Fatalf("client read failed: %v", err)
	}

	if string(reply) != "pong" {
		t.Fatalf("got reply %q, want %q", reply, "pong")
	}

	sc.Abort(nil)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0

	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func TestSocketConnectionShutdownIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sc := newTestSocketConnection(t, server, false)

	sc.shutdown(nil)
	sc.shutdown(nil)

	if got := sc.currentShutdownReason(); got != errGracefulSendLoopCompletion {
		t.Fatalf("got shutdown reason %v, want %v", got, errGracefulSendLoopCompletion)
	}

	sc.Abort(nil)
	sc.Dispose()
}

func TestSocketConnectionFiresConnectionClosedExactlyOnce(t *testing.T) {
	server, client := net.Pipe()

	sc := newTestSocketConnection(t, server, false)

	client.Close()

	select {
	case <-sc.ConnectionClosed():
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectionClosed was never signaled")
	}

	select {
	case <-sc.ConnectionClosed():
	case <-time.After(time.Second):
		t.Fatal("ConnectionClosed channel should stay ready after firing once")
	}

	sc.Abort(nil)
	sc.Dispose()
}

func TestSocketConnectionAbortWakesPendingSendLoopRead(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sc := newTestSocketConnection(t, server, false)

	done := make(chan struct{})
	go func() {
		sc.Dispose()
		close(done)
	}()

	sc.Abort(nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispose did not return after Abort")
	}
}
