package server_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/adeilh/flashdb/cache/cachetest"
	"github.com/adeilh/flashdb/cache/memory"
	"github.com/adeilh/flashdb/httpx"
	"github.com/adeilh/flashdb/internal/testutil/servertest"
	"github.com/adeilh/flashdb/protocol"
	"github.com/adeilh/flashdb/server"
)

type rawConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialRaw(t *testing.T, addr string) *rawConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &rawConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *rawConn) send(line string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
}

func (c *rawConn) expect(want string) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
	got, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("read reply (want %q): %v", want, err)
	}
	if got != want+"\n" {
		c.t.Fatalf("reply = %q, want %q", got, want+"\n")
	}
}

func (c *rawConn) roundTrip(line, want string) {
	c.t.Helper()
	c.send(line)
	c.expect(want)
}

func TestServerWireProtocol(t *testing.T) {
	fx := servertest.Start(t, nil)
	c := dialRaw(t, fx.Addr)

	c.roundTrip("SET foo bar 10\n", "OK")
	c.roundTrip("GET foo\n", "bar")
	c.roundTrip("GET missing\n", "(nil)")
	c.roundTrip("SET a 1 0\n", "OK")
	c.roundTrip("ALL\n", "a,foo")
	c.roundTrip("DEL foo\n", "DELETED")
	c.roundTrip("DEL foo\n", "NOT_FOUND")
	c.roundTrip("PING\n", "PONG")
}

func TestServerRejectsMalformedCommandsAndKeepsConnection(t *testing.T) {
	fx := servertest.Start(t, nil)
	c := dialRaw(t, fx.Addr)

	for _, line := range []string{"FLUSHALL\n", "GET\n", "SET k v notanumber\n", "SET k v -1\n", "\n"} {
		c.send(line)
		_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
		got, err := c.r.ReadString('\n')
		if err != nil {
			t.Fatalf("read reply for %q: %v", line, err)
		}
		if !strings.HasPrefix(got, "ERR ") {
			t.Fatalf("reply for %q = %q, want ERR", line, got)
		}
	}
	c.roundTrip("PING\n", "PONG")

	if stats := fx.Server.Stats(); stats.CommandErrors != 5 {
		t.Fatalf("CommandErrors = %d, want 5", stats.CommandErrors)
	}
}

func TestServerAnswersBackToBackCommandsInOrder(t *testing.T) {
	fx := servertest.Start(t, nil)
	c := dialRaw(t, fx.Addr)

	c.send("SET k1 v1 0\nSET k2 v2 0\nGET k2\nGET k1\nDEL k1\n")
	for _, want := range []string{"OK", "OK", "v2", "v1", "DELETED"} {
		c.expect(want)
	}
}

func TestServerEscapedValues(t *testing.T) {
	fx := servertest.Start(t, nil)
	c := dialRaw(t, fx.Addr)

	line, err := protocol.Set("user:1", `{"name": "Troy"}`, 60).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	c.roundTrip(string(line), "OK")

	v, found, err := fx.Store.Get(context.Background(), "user:1")
	if err != nil || !found || v != `{"name": "Troy"}` {
		t.Fatalf("store holds %q (found=%v, err=%v)", v, found, err)
	}
	c.roundTrip("GET user:1\n", protocol.Escape(`{"name": "Troy"}`))
}

func TestServerExpiryUsesStoreClock(t *testing.T) {
	clock := cachetest.NewFakeClock()
	fx := servertest.Start(t, clock)
	c := dialRaw(t, fx.Addr)

	c.roundTrip("SET foo bar 10\n", "OK")
	c.roundTrip("GET foo\n", "bar")
	clock.Advance(11 * time.Second)
	c.roundTrip("GET foo\n", "(nil)")
	c.roundTrip("ALL\n", "")
}

func TestServerClosesConnectionOnOversizedLine(t *testing.T) {
	fx := servertest.Start(t, nil, func(o *server.Options) { o.MaxLineLength = 64 })
	c := dialRaw(t, fx.Addr)

	c.send("SET k " + strings.Repeat("x", 128) + " 0\n")
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
	got, err := c.r.ReadString('\n')
	if err != nil || !strings.HasPrefix(got, "ERR ") {
		t.Fatalf("expected ERR reply, got %q (%v)", got, err)
	}
	if _, err := c.r.ReadString('\n'); err == nil {
		t.Fatalf("expected connection to be closed after oversized line")
	}
}

func TestServerSweeperPurgesExpiredEntries(t *testing.T) {
	clock := cachetest.NewFakeClock()
	fx := servertest.Start(t, clock, func(o *server.Options) { o.SweepInterval = 10 * time.Millisecond })

	ctx := context.Background()
	cachetest.MustSet(t, ctx, fx.Store, "short", "v", time.Second)
	cachetest.MustSet(t, ctx, fx.Store, "long", "v", 0)
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for fx.Server.Stats().Swept < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not purge the expired entry, stats = %+v", fx.Server.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := fx.Store.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}
}

func TestServeStopsAndClosesConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := server.New(memory.New(), server.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	if err := servertest.WaitForPing(ln.Addr().String(), 2*time.Second); err != nil {
		t.Fatalf("%v", err)
	}
	c := dialRaw(t, ln.Addr().String())
	c.roundTrip("PING\n", "PONG")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := c.r.ReadString('\n'); err == nil {
		t.Fatalf("expected client connection to be closed")
	}
	if active := srv.Stats().ConnectionsActive; active != 0 {
		t.Fatalf("ConnectionsActive = %d, want 0", active)
	}
}

func TestAdminRoutes(t *testing.T) {
	fx := servertest.Start(t, nil)
	client := httpx.NewClient(httpx.WithBaseURL(fx.AdminURL))
	ctx := context.Background()

	var health map[string]string
	if _, err := client.Get(ctx, protocol.PathHealth, &health); err != nil || health["status"] != "ok" {
		t.Fatalf("healthz: %v %v", health, err)
	}

	put := protocol.EntryRequest{Key: "user:1 x", Value: "v 1", TTLSeconds: 60}
	if _, err := client.Put(ctx, protocol.PathEntry, put, nil); err != nil {
		t.Fatalf("PUT entry: %v", err)
	}

	var entry protocol.EntryResponse
	if _, err := client.Get(ctx, protocol.PathEntry, &entry, httpx.WithQuery(map[string]string{"key": "user:1 x"})); err != nil {
		t.Fatalf("GET entry: %v", err)
	}
	if entry.Value != "v 1" {
		t.Fatalf("GET entry = %+v", entry)
	}

	var keys protocol.KeysResponse
	if _, err := client.Get(ctx, protocol.PathKeys, &keys); err != nil || !slices.Equal(keys.Keys, []string{"user:1 x"}) {
		t.Fatalf("GET keys = %v (%v)", keys.Keys, err)
	}

	var del protocol.DeleteResponse
	if _, err := client.Delete(ctx, protocol.PathEntry, &del, httpx.WithQuery(map[string]string{"key": "user:1 x"})); err != nil || !del.Deleted {
		t.Fatalf("DELETE entry = %+v (%v)", del, err)
	}

	_, err := client.Get(ctx, protocol.PathEntry, nil, httpx.WithQuery(map[string]string{"key": "user:1 x"}))
	var statusErr *httpx.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != httpx.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %v", err)
	}

	_, err = client.Put(ctx, protocol.PathEntry, protocol.EntryRequest{Key: "k", TTLSeconds: -1}, nil)
	if !errors.As(err, &statusErr) || statusErr.Code != httpx.StatusBadRequest {
		t.Fatalf("expected 400 for negative ttl, got %v", err)
	}

	var stats protocol.Stats
	if _, err := client.Get(ctx, protocol.PathStats, &stats); err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	if stats.ConnectionsTotal < 1 {
		t.Fatalf("stats should count the readiness check connection: %+v", stats)
	}
}

func TestServerRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	fx := servertest.Start(t, nil, func(o *server.Options) { o.Meter = provider.Meter("test") })
	c := dialRaw(t, fx.Addr)
	c.roundTrip("SET k v 0\n", "OK")
	c.roundTrip("GET k\n", "v")
	c.send("BOGUS\n")
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
	if got, err := c.r.ReadString('\n'); err != nil || !strings.HasPrefix(got, "ERR ") {
		t.Fatalf("reply for BOGUS = %q (%v), want ERR", got, err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	// totals is keyed by instrument name and op attribute.
	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				op, _ := dp.Attributes.Value(attribute.Key("op"))
				totals[m.Name+"/"+op.AsString()] += dp.Value
			}
		}
	}
	for key, want := range map[string]int64{
		"flashdb.commands/SET":           1,
		"flashdb.commands/GET":           1,
		"flashdb.commands/invalid":       1,
		"flashdb.command_errors/invalid": 1,
	} {
		if got := totals[key]; got != want {
			t.Fatalf("%s = %d, want %d (all: %v)", key, got, want, totals)
		}
	}
	if got := totals["flashdb.connections.active/"]; got < 1 {
		t.Fatalf("flashdb.connections.active = %d, want the open test connection", got)
	}
}
