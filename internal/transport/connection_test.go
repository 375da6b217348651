package transport

import (
	"context"
	"errors"
	"net"
	"testing"
)

func newTestConnection(t *testing.T, id uint64) (*Connection, *recordingLogger) {
	t.Helper()

	server, _ := net.Pipe()
	sc := NewSocketConnection(server, SocketConnectionOptions{})
	sc.Start(context.Background(), false)

	logger := &recordingLogger{}
	conn := NewConnection(id, sc, logger)

	t.Cleanup(func() {
		sc.Abort(nil)
		sc.Dispose()
	})

	return conn, logger
}

func TestConnectionOnCompletedRunsInReverseOrder(t *testing.T) {
	conn, _ := newTestConnection(t, 1)

	var order []string

	conn.OnCompleted(func(state any) error {
		order = append(order, "first")

		return nil
	}, nil)
	conn.OnCompleted(func(state any) error {
		order = append(order, "second")

		return nil
	}, nil)

	err := conn.Execute(context.Background(), terminalDelegate)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	want := []string{"second", "first"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("got order %v, want %v", order, want)
	}
}

func TestConnectionOnCompletedErrorDoesNotStopOtherCallbacks(t *testing.T) {
	conn, logger := newTestConnection(t, 2)

	var secondRan bool

	conn.OnCompleted(func(state any) error {
		secondRan = true

		return nil
	}, nil)
	conn.OnCompleted(func(state any) error {
		return errors.New("boom")
	}, nil)

	if err := conn.Execute(context.Background(), terminalDelegate); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !secondRan {
		t.Fatal("expected the callback registered before the failing one to still run")
	}

	if logger.errorCount() == 0 {
		t.Fatal("expected the failing callback's error to be logged")
	}
}

func TestConnectionOnCompletedRunsEvenWhenDelegateErrors(t *testing.T) {
	conn, _ := newTestConnection(t, 3)

	var ran bool

	conn.OnCompleted(func(state any) error {
		ran = true

		return nil
	}, nil)

	wantErr := errors.New("delegate failed")
	delegate := func(ctx context.Context, c *Connection) error { return wantErr }

	err := conn.Execute(context.Background(), delegate)
	if !errors.Is(err, wantErr) {
		t.Fatalf("got err=%v, want %v", err, wantErr)
	}

	if !ran {
		t.Fatal("expected on-completed callbacks to run even when the delegate returned an error")
	}
}

func TestConnectionFeaturesCarriesIDAndEndpoints(t *testing.T) {
	conn, _ := newTestConnection(t, 7)

	v, ok := conn.Features().Get(featureKeyConnectionID)
	if !ok || v.(uint64) != 7 {
		t.Fatalf("got connection id feature %v (ok=%v), want 7", v, ok)
	}

	if _, ok := conn.Features().Get(featureKeyLocalRemote); !ok {
		t.Fatal("expected the local/remote endpoint tuple to be published")
	}
}
