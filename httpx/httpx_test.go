package httpx

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestServerAndClientRoundTrip(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/healthz", func(c Context) error {
			return c.JSON(StatusOK, map[string]string{"status": "ok"})
		})
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := ts.NewClient()

	var body struct {
		Status string `json:"status"`
	}
	resp, err := client.Get(context.Background(), "/healthz", &body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode() != StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode())
	}
	if body.Status != "ok" {
		t.Fatalf("unexpected body: %#v", body)
	}
}

func TestErrorHandlerReturnsStatusError(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/missing", func(c Context) error {
			return HTTPError(StatusNotFound, "key not found")
		})
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	resp, err := ts.NewClient().Get(context.Background(), "/missing", nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.Code != StatusNotFound || !strings.Contains(statusErr.Body, "key not found") {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
	if resp == nil || resp.StatusCode() != StatusNotFound {
		t.Fatalf("expected response for error path")
	}
}

func TestWithErrorHandlerReplacesDefault(t *testing.T) {
	handled := make(chan error, 1)
	server := NewServer(WithErrorHandler(func(err error, c Context) {
		handled <- err
		_ = c.JSON(StatusServiceUnavailable, map[string]string{"custom": err.Error()})
	}))
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/fail", func(c Context) error { return errors.New("store offline") })
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	_, err := ts.NewClient().Get(context.Background(), "/fail", nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != StatusServiceUnavailable {
		t.Fatalf("expected 503 from custom handler, got %v", err)
	}
	if !strings.Contains(statusErr.Body, "store offline") {
		t.Fatalf("unexpected body: %q", statusErr.Body)
	}
	if got := <-handled; got == nil || got.Error() != "store offline" {
		t.Fatalf("custom handler saw %v", got)
	}
}

func TestRouterHelpers(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		NewRouter(e, "/v1").
			GET("/ping", func(c Context) error { return c.JSON(StatusOK, map[string]string{"message": "pong"}) }).
			DELETE("/thing", func(c Context) error { return c.NoContent(StatusNoContent) })
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := ts.NewClient()
	var body map[string]string
	if _, err := client.Get(context.Background(), "/v1/ping", &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["message"] != "pong" {
		t.Fatalf("unexpected body: %#v", body)
	}
	resp, err := client.Delete(context.Background(), "/v1/thing", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode() != StatusNoContent {
		t.Fatalf("unexpected status: %d", resp.StatusCode())
	}
}

func TestRegisterRoutesBulkAndPutBody(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		RegisterRoutes(e,
			Route{Method: "get", Path: "/r1", Handler: func(c Context) error {
				return c.JSON(StatusOK, map[string]string{"route": "r1"})
			}},
			Route{Method: "PUT", Path: "/echo", Handler: func(c Context) error {
				var payload map[string]any
				if err := c.Bind(&payload); err != nil {
					return HTTPError(StatusBadRequest, "invalid body")
				}
				return c.JSON(StatusOK, payload)
			}},
			Route{Method: "GET", Path: "", Handler: func(c Context) error { return nil }},
		)
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	client := ts.NewClient()

	var r1 map[string]string
	if _, err := client.Get(context.Background(), "/r1", &r1); err != nil || r1["route"] != "r1" {
		t.Fatalf("unexpected response: err=%v body=%v", err, r1)
	}

	var echoed map[string]string
	resp, err := client.Put(context.Background(), "/echo", map[string]string{"hello": "world"}, &echoed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode() != StatusOK || echoed["hello"] != "world" {
		t.Fatalf("unexpected PUT response: status=%d body=%v", resp.StatusCode(), echoed)
	}
}

func TestClientQueryAndHeaders(t *testing.T) {
	server := NewServer()
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/opts", func(c Context) error {
			return c.JSON(StatusOK, map[string]string{
				"custom": c.Request().Header.Get("X-Custom"),
				"key":    c.QueryParam("key"),
			})
		})
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	var out map[string]string
	_, err := ts.NewClient().Get(context.Background(), "/opts", &out,
		WithRequestHeaders(map[string]string{"X-Custom": "yes"}),
		WithQuery(map[string]string{"key": "user:1 100%"}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["custom"] != "yes" || out["key"] != "user:1 100%" {
		t.Fatalf("unexpected headers/query: %v", out)
	}
}

func TestRequestLoggerWritesRecords(t *testing.T) {
	buf := &lockedBuffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))

	server := NewServer(WithLogger(logger))
	server.RegisterRoutes(func(e *Echo) {
		e.GET("/ping", func(c Context) error { return c.NoContent(StatusNoContent) })
	})

	ts := NewTestServer(server.Handler())
	defer ts.Close()

	if _, err := ts.NewClient().Get(context.Background(), "/ping", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"uri":"/ping"`) {
		t.Fatalf("expected request log, got %q", buf.String())
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewServer()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln, WithShutdownTimeout(time.Second)) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
