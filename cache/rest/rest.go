// Package rest implements cache.Store against the FlashDB admin HTTP API.
package rest

import (
	"context"
	"errors"
	"time"

	"github.com/adeilh/flashdb/cache"
	"github.com/adeilh/flashdb/httpx"
	"github.com/adeilh/flashdb/protocol"
)

// Store implements cache.Store over HTTP. It is safe for concurrent use.
type Store struct {
	client *httpx.Client
}

var _ cache.Store = (*Store)(nil)

// New builds a store talking to the admin API at baseURL.
func New(baseURL string, opts ...httpx.ClientOption) *Store {
	opts = append([]httpx.ClientOption{httpx.WithBaseURL(baseURL)}, opts...)
	return &Store{client: httpx.NewClient(opts...)}
}

// NewWithClient wraps an existing client, typically one from httpx.TestServer.
func NewWithClient(client *httpx.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	secs, err := cache.TTLSeconds(ttl)
	if err != nil {
		return err
	}
	req := protocol.EntryRequest{Key: key, Value: value, TTLSeconds: secs}
	_, err = s.client.Put(ctx, protocol.PathEntry, req, nil)
	return s.wrap(ctx, "set", err)
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := cache.ValidateKey(key); err != nil {
		return "", false, err
	}
	var entry protocol.EntryResponse
	_, err := s.client.Get(ctx, protocol.PathEntry, &entry, keyQuery(key))
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.wrap(ctx, "get", err)
	}
	return entry.Value, true, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := cache.ValidateKey(key); err != nil {
		return false, err
	}
	var resp protocol.DeleteResponse
	if _, err := s.client.Delete(ctx, protocol.PathEntry, &resp, keyQuery(key)); err != nil {
		return false, s.wrap(ctx, "delete", err)
	}
	return resp.Deleted, nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var resp protocol.KeysResponse
	if _, err := s.client.Get(ctx, protocol.PathKeys, &resp); err != nil {
		return nil, s.wrap(ctx, "keys", err)
	}
	if resp.Keys == nil {
		resp.Keys = []string{}
	}
	return resp.Keys, nil
}

// Stats fetches the server counters.
func (s *Store) Stats(ctx context.Context) (protocol.Stats, error) {
	var stats protocol.Stats
	if _, err := s.client.Get(ctx, protocol.PathStats, &stats); err != nil {
		return protocol.Stats{}, s.wrap(ctx, "stats", err)
	}
	return stats, nil
}

// wrap maps 4xx answers to protocol errors and everything else to transport
// errors. Context errors are returned unchanged.
func (s *Store) wrap(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	var se *httpx.StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
		return &cache.ProtocolError{Op: op, Msg: "server rejected request", Err: err}
	}
	return &cache.TransportError{Op: op, Addr: s.client.BaseURL(), Err: err}
}

func isNotFound(err error) bool {
	var se *httpx.StatusError
	return errors.As(err, &se) && se.Code == httpx.StatusNotFound
}

func keyQuery(key string) httpx.RequestOption {
	return httpx.WithQuery(map[string]string{"key": key})
}

