// Package network implements cache.Store against a FlashDB server over the
// line protocol. A Store owns exactly one connection and never has more than
// one request in flight on it: replies carry no correlation id and are matched
// to requests purely by arrival order.
package network

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/adeilh/flashdb/cache"
	"github.com/adeilh/flashdb/protocol"
)

var (
	// ErrConnDead is returned by every call after an I/O failure until
	// Reconnect succeeds.
	ErrConnDead = errors.New("network: connection is dead, reconnect required")
	ErrClosed   = errors.New("network: store closed")
)

// Store implements cache.Store over a single TCP connection.
// It is safe for concurrent use; calls are serialized.
type Store struct {
	opts   Options
	log    *slog.Logger
	dialFn DialFunc

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

var _ cache.Store = (*Store)(nil)

type DialFunc func(context.Context, Options) (net.Conn, error)

// NewStore builds an unconnected store. Call Reconnect (or use Dial) before
// issuing commands.
func NewStore(opts Options) *Store {
	cfg := opts.withDefaults()
	return &Store{opts: cfg, log: cfg.Logger, dialFn: defaultDial}
}

// Dial builds a store and opens its connection.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	s := NewStore(opts)
	if err := s.Reconnect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// WithDial allows overriding the dialer (useful for tests/mocks).
func (s *Store) WithDial(fn DialFunc) {
	if fn != nil {
		s.dialFn = fn
	}
}

// Addr returns the server address the store dials.
func (s *Store) Addr() string { return s.opts.Addr }

// Reconnect drops the current connection, if any, and dials a new one.
func (s *Store) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.transportErr("dial", ErrClosed)
	}
	s.dropLocked()

	dctx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()
	conn, err := s.dialFn(dctx, s.opts)
	if err != nil {
		return s.transportErr("dial", err)
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.log.Debug("connected", "addr", s.opts.Addr)
	return nil
}

// Close releases the connection. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn, s.reader = nil, nil
	return err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	secs, err := cache.TTLSeconds(ttl)
	if err != nil {
		return &cache.ProtocolError{Op: string(protocol.OpSet), Msg: "invalid ttl", Err: err}
	}
	_, err = s.exchange(ctx, protocol.Set(key, value, secs))
	return err
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	reply, err := s.exchange(ctx, protocol.Get(key))
	if err != nil {
		return "", false, err
	}
	return reply.Value, reply.Found, nil
}

// Delete reports whether the server removed a live entry.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	reply, err := s.exchange(ctx, protocol.Del(key))
	if err != nil {
		return false, err
	}
	return reply.Found, nil
}

// Keys returns the server's live keys in the order it listed them.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	reply, err := s.exchange(ctx, protocol.All())
	if err != nil {
		return nil, err
	}
	return reply.Keys, nil
}

// Ping checks that the server answers on the current connection.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.exchange(ctx, protocol.Ping())
	return err
}

// exchange writes one command line and reads exactly one reply line while
// holding the store lock. Malformed commands are rejected before any I/O.
func (s *Store) exchange(ctx context.Context, cmd protocol.Command) (protocol.Reply, error) {
	payload, err := cmd.Encode()
	if err != nil {
		return protocol.Reply{}, err
	}
	if err := ctx.Err(); err != nil {
		return protocol.Reply{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	op := string(cmd.Op)
	switch {
	case s.closed:
		return protocol.Reply{}, s.transportErr(op, ErrClosed)
	case s.conn == nil:
		return protocol.Reply{}, s.transportErr(op, ErrConnDead)
	}
	conn := s.conn

	// Cancellation interrupts a blocked read or write by expiring the deadline.
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	if err := applyDeadline(ctx, conn.SetWriteDeadline, s.opts.WriteTimeout); err != nil {
		return protocol.Reply{}, s.fail(ctx, op, err)
	}
	if _, err := conn.Write(payload); err != nil {
		return protocol.Reply{}, s.fail(ctx, op, err)
	}
	if err := applyDeadline(ctx, conn.SetReadDeadline, s.opts.ReadTimeout); err != nil {
		return protocol.Reply{}, s.fail(ctx, op, err)
	}
	line, err := protocol.ReadLine(s.reader, s.opts.MaxLineLength)
	if err != nil {
		if errors.Is(err, protocol.ErrLineTooLong) {
			// The remainder of the reply is still on the wire.
			s.dropLocked()
			return protocol.Reply{}, &cache.ProtocolError{Op: op, Msg: "reply too long", Err: err}
		}
		return protocol.Reply{}, s.fail(ctx, op, err)
	}
	return protocol.DecodeReply(cmd.Op, line)
}

// fail marks the connection dead and wraps err as a transport failure. A
// failure caused by ctx reports the context error.
func (s *Store) fail(ctx context.Context, op string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		err = cerr
	}
	s.log.Warn("connection marked dead", "addr", s.opts.Addr, "op", op, "error", err)
	s.dropLocked()
	return s.transportErr(op, err)
}

func (s *Store) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn, s.reader = nil, nil
}

func (s *Store) transportErr(op string, err error) error {
	return &cache.TransportError{Op: op, Addr: s.opts.Addr, Err: err}
}

func defaultDial(ctx context.Context, opts Options) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	return dialer.DialContext(ctx, "tcp", opts.Addr)
}

// applyDeadline sets now+timeout, or the context deadline when that is sooner.
func applyDeadline(ctx context.Context, setter func(time.Time) error, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return setter(deadline)
}

