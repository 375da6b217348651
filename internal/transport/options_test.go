package transport

import (
	"context"
	"testing"
)

func TestNewListenOptionsDefaultsToAllProtocolsEnabled(t *testing.T) {
	opts := NewListenOptions(NewUnixEndpoint("opts-test"))

	for _, p := range []Protocol{ProtocolH1, ProtocolH2, ProtocolH3} {
		if !opts.HasProtocol(p) {
			t.Fatalf("expected protocol %v to be enabled by default", p)
		}
	}

	if opts.ProtocolsExplicitlySet() {
		t.Fatal("expected the default protocol set to not count as explicitly set")
	}
}

func TestListenOptionsSetProtocolsMarksExplicit(t *testing.T) {
	opts := NewListenOptions(NewUnixEndpoint("opts-test"))

	opts.SetProtocols(ProtocolH1)

	if !opts.HasProtocol(ProtocolH1) {
		t.Fatal("expected ProtocolH1 to be enabled")
	}

	if opts.HasProtocol(ProtocolH2) {
		t.Fatal("expected ProtocolH2 to be disabled after SetProtocols(ProtocolH1)")
	}

	if !opts.ProtocolsExplicitlySet() {
		t.Fatal("expected ProtocolsExplicitlySet to report true after SetProtocols")
	}
}

func TestListenOptionsCloneCopiesConfigurationIndependently(t *testing.T) {
	opts := NewListenOptions(NewIPEndpoint(nil, 0))
	opts.SetProtocols(ProtocolH1, ProtocolH2)
	opts.Fingerprint = "fp"
	opts.Use(func(next MiddlewareDelegate) MiddlewareDelegate { return next })

	other := NewIPEndpoint(nil, 8080)
	clone := opts.Clone(other)

	if clone.Endpoint.Port != 8080 {
		t.Fatalf("got clone endpoint port %d, want 8080", clone.Endpoint.Port)
	}

	if !clone.ProtocolsExplicitlySet() {
		t.Fatal("expected Clone to preserve the explicitly-set flag")
	}

	if len(clone.middleware) != 1 {
		t.Fatalf("got %d middleware entries on the clone, want 1", len(clone.middleware))
	}

	clone.SetProtocols(ProtocolH3)

	if opts.HasProtocol(ProtocolH3) {
		t.Fatal("expected mutating the clone's protocol set to not affect the original")
	}
}

func TestListenOptionsBuildComposesRegisteredMiddleware(t *testing.T) {
	opts := NewListenOptions(NewUnixEndpoint("opts-build-test"))

	var ran bool
	opts.Use(func(next MiddlewareDelegate) MiddlewareDelegate {
		return func(ctx context.Context, conn *Connection) error {
			ran = true

			return next(ctx, conn)
		}
	})

	delegate := opts.Build()
	if err := delegate(context.Background(), nil); err != nil {
		t.Fatalf("delegate returned error: %v", err)
	}

	if !ran {
		t.Fatal("expected the registered middleware to run")
	}
}
