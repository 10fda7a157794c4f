// Package servertest runs an in-process FlashDB server for integration tests.
package servertest

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/adeilh/flashdb/cache"
	"github.com/adeilh/flashdb/cache/memory"
	"github.com/adeilh/flashdb/httpx"
	"github.com/adeilh/flashdb/server"
)

// Fixture is a running server plus its admin API.
type Fixture struct {
	// Addr is the host:port of the line protocol listener.
	Addr string
	// AdminURL is the base URL of the admin HTTP API.
	AdminURL string
	Server   *server.Server
	Store    *memory.Store
}

// Start launches a server on a random loopback port whose store reads clock
// (nil means the wall clock). Everything is torn down through t.Cleanup.
func Start(t testing.TB, clock cache.Clock, opts ...func(*server.Options)) *Fixture {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("servertest: listen: %v", err)
	}

	store := memory.New(memory.WithClock(clock))
	sopts := server.Options{Addr: ln.Addr().String()}
	for _, opt := range opts {
		opt(&sopts)
	}
	srv := server.New(store, sopts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("servertest: serve: %v", err)
		}
	})

	if err := WaitForPing(ln.Addr().String(), 2*time.Second); err != nil {
		t.Fatalf("servertest: %v", err)
	}

	admin := httpx.NewServer()
	admin.RegisterRoutes(srv.AdminRoutes())
	ts := httpx.NewTestServer(admin.Handler())
	t.Cleanup(ts.Close)

	return &Fixture{
		Addr:     ln.Addr().String(),
		AdminURL: ts.BaseURL(),
		Server:   srv,
		Store:    store,
	}
}

// WaitForPing blocks until addr answers a PING with PONG or timeout elapses.
func WaitForPing(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			if _, err := conn.Write([]byte("PING\n")); err == nil {
				_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err == nil && strings.TrimSpace(line) == "PONG" {
					_ = conn.Close()
					return nil
				}
			}
			_ = conn.Close()
		}
		time.Sleep(20 * time.Millisecond)
	}
	return errors.New("server did not answer PING in time")
}
