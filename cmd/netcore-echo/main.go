// Command netcore-echo is a minimal end-to-end wiring sample for the
// connection transport engine: it binds one TCP endpoint, echoes every
// chunk a peer sends, and drains open connections on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orizon-lang/netcore/internal/runtime/netstack"
	"github.com/orizon-lang/netcore/internal/transport"
)

func main() {
	var (
		addr        string
		drainPeriod time.Duration
		useTLS      bool
	)

	flag.StringVar(&addr, "addr", "127.0.0.1:9000", "TCP address to listen on")
	flag.DurationVar(&drainPeriod, "drain", 5*time.Second, "how long to wait for connections to close gracefully on shutdown")
	flag.BoolVar(&useTLS, "tls", false, "terminate TLS using a freshly generated self-signed certificate")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -addr:", err)
		os.Exit(2)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			fmt.Fprintln(os.Stderr, "could not resolve host:", host)
			os.Exit(2)
		}

		ip = ips[0]
	}

	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		fmt.Fprintln(os.Stderr, "invalid port:", portStr)
		os.Exit(2)
	}

	manager := transport.NewTransportManager(nil, nil, logger)
	manager.RegisterStreamFactory(transport.TCPListenerFactory{})

	endpoint := transport.NewIPEndpoint(ip, port)

	opts := transport.NewListenOptions(endpoint)
	opts.SetProtocols(transport.ProtocolH1)
	opts.Use(echoMiddleware(logger))

	if useTLS {
		cert, err := netstack.GenerateSelfSignedTLS([]string{host}, 24*time.Hour)
		if err != nil {
			fmt.Fprintln(os.Stderr, "generating self-signed certificate failed:", err)
			os.Exit(1)
		}

		opts.Endpoint = endpoint.WithTLS(true)
		opts.TLS = transport.TLSOptions{Static: cert}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	effective, err := manager.Bind(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bind failed:", err)
		os.Exit(1)
	}

	logger.Info("listening", "endpoint", effective.String())

	<-ctx.Done()

	logger.Info("shutting down, draining connections", "timeout", drainPeriod)
	manager.StopAll(context.Background(), drainPeriod)
}

// echoMiddleware copies every chunk a peer sends back to the peer until
// the peer's half of the connection completes.
func echoMiddleware(logger transport.Logger) transport.Middleware {
	return func(next transport.MiddlewareDelegate) transport.MiddlewareDelegate {
		return func(ctx context.Context, conn *transport.Connection) error {
			input := conn.Transport().ApplicationInput()
			output := conn.Transport().ApplicationOutput()

			for {
				data, canceled, completed, err := input.Read(ctx)
				if canceled {
					return next(ctx, conn)
				}

				if len(data) > 0 {
					buf := output.Reserve(len(data))
					n := copy(buf, data)
					output.Commit(n)

					if _, flushErr := output.Flush(ctx); flushErr != nil {
						conn.Logger().Warn("flush failed", "error", flushErr)
					}
				}

				input.Advance(len(data))

				if completed {
					if err != nil {
						conn.Logger().Debug("peer input completed with error", "error", err)
					}

					return next(ctx, conn)
				}
			}
		}
	}
}
