package transport

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestUnixListenerFactoryBindAndDial(t *testing.T) {
	f := UnixListenerFactory{}

	dir := t.TempDir()
	endpoint := NewUnixEndpoint(filepath.Join(dir, "netcore.sock"))

	ln, _, err := f.Bind(context.Background(), endpoint, nil)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	defer ln.Close()

	dialed, err := net.DialTimeout("unix", endpoint.Path, time.Second)
	if err != nil {
		t.Fatalf("dial to bound listener failed: %v", err)
	}
	defer dialed.Close()

	accepted, err := ln.Accept(context.Background())
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	defer accepted.Close()
}

func TestUnixListenerFactoryCanBindOnlyUnixEndpoints(t *testing.T) {
	f := UnixListenerFactory{}

	if !f.CanBind(NewUnixEndpoint("/tmp/x.sock")) {
		t.Fatal("expected CanBind to accept Unix endpoints")
	}

	if f.CanBind(NewIPEndpoint(nil, 0)) {
		t.Fatal("expected CanBind to reject IP endpoints")
	}
}
