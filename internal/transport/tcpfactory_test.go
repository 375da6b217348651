package transport

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/orizon-lang/netcore/internal/runtime/netstack"
)

func TestTCPListenerFactoryBindAssignsKernelPort(t *testing.T) {
	f := TCPListenerFactory{}

	endpoint := NewIPEndpoint(net.ParseIP("127.0.0.1"), 0)

	ln, effective, err := f.Bind(context.Background(), endpoint, nil)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	defer ln.Close()

	if effective.Port == 0 {
		t.Fatal("expected Bind to report the kernel-assigned port")
	}

	dialed, err := net.DialTimeout("tcp", effective.Address(), time.Second)
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

func TestTCPListenerFactoryCanBindOnlyIPEndpoints(t *testing.T) {
	f := TCPListenerFactory{}

	if !f.CanBind(NewIPEndpoint(nil, 0)) {
		t.Fatal("expected CanBind to accept IP endpoints")
	}

	if f.CanBind(NewUnixEndpoint("/tmp/x.sock")) {
		t.Fatal("expected CanBind to reject Unix endpoints")
	}
}

func TestTCPListenerFactoryBindWithTLSUsesSuppliedConfig(t *testing.T) {
	f := TCPListenerFactory{}

	serverConfig, err := netstack.GenerateSelfSignedTLS([]string{"127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateSelfSignedTLS failed: %v", err)
	}

	endpoint := NewIPEndpoint(net.ParseIP("127.0.0.1"), 0).WithTLS(true)

	ln, effective, err := f.Bind(context.Background(), endpoint, serverConfig)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	defer ln.Close()

	acceptDone := make(chan error, 1)

	go func() {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			acceptDone <- err

			return
		}
		defer conn.Close()

		buf := make([]byte, 5)
		_, err = conn.Read(buf)
		acceptDone <- err
	}()

	clientConfig := &tls.Config{InsecureSkipVerify: true}

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", effective.Address(), clientConfig)
	if err != nil {
		t.Fatalf("TLS dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case err := <-acceptDone:
		if err != nil {
			t.Fatalf("server-side read failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted/read the TLS connection")
	}
}

func TestNetListenerAcceptAfterUnbindReturnsNilNil(t *testing.T) {
	f := TCPListenerFactory{}

	ln, _, err := f.Bind(context.Background(), NewIPEndpoint(net.ParseIP("127.0.0.1"), 0), nil)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	if err := ln.Unbind(context.Background()); err != nil {
		t.Fatalf("Unbind failed: %v", err)
	}

	conn, err := ln.Accept(context.Background())
	if conn != nil || err != nil {
		t.Fatalf("got conn=%v err=%v, want nil, nil after Unbind", conn, err)
	}
}
