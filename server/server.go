// Package server runs the FlashDB line protocol over TCP in front of an
// in-memory store. Each connection is served by its own goroutine and
// answers commands strictly in the order they arrive.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/adeilh/flashdb/cache/memory"
	"github.com/adeilh/flashdb/internal/metrics"
	"github.com/adeilh/flashdb/protocol"
)

type Server struct {
	store   *memory.Store
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	connsTotal    atomic.Int64
	connsActive   atomic.Int64
	commands      atomic.Int64
	commandErrors atomic.Int64
	swept         atomic.Int64

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func New(store *memory.Store, opts Options) *Server {
	cfg := opts.withDefaults()
	m, err := metrics.New(cfg.Meter)
	if err != nil {
		cfg.Logger.Warn("metrics disabled", "error", err)
		m, _ = metrics.New(noop.NewMeterProvider().Meter(""))
	}
	return &Server{
		store:   store,
		opts:    cfg,
		log:     cfg.Logger,
		metrics: m,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Store returns the store the server answers from.
func (s *Server) Store() *memory.Store { return s.store }

// ListenAndServe listens on Options.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. On return the listener,
// every open connection and the sweeper have been shut down. A cancelled
// context is a clean stop and returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.closeConns()
	}()

	if s.opts.SweepInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.store.RunSweeper(ctx, s.opts.SweepInterval, func(removed int) {
				s.swept.Add(int64(removed))
				if removed > 0 {
					s.metrics.Swept.Add(ctx, int64(removed))
					s.log.Debug("swept expired entries", "removed", removed)
				}
			})
		}()
	}

	s.log.Info("flashdb listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			cancel()
			s.wg.Wait()
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	log := s.log.With("conn_id", uuid.NewString(), "remote", conn.RemoteAddr().String())
	defer func() {
		_ = conn.Close()
		s.untrack(conn)
		log.Debug("connection closed")
	}()
	log.Debug("connection opened")

	reader := bufio.NewReader(conn)
	for {
		if s.opts.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}
		line, err := protocol.ReadLine(reader, s.opts.MaxLineLength)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, protocol.ErrLineTooLong):
				// The rest of the oversized line cannot be resynchronised.
				s.commandErrors.Add(1)
				_ = s.write(conn, protocol.ErrorReply("", err))
			default:
				log.Debug("read failed", "error", err)
			}
			return
		}

		reply := s.dispatch(ctx, line)
		if reply.Err != "" {
			log.Debug("command rejected", "error", reply.Err)
		}
		if err := s.write(conn, reply); err != nil {
			log.Warn("write failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, line string) protocol.Reply {
	s.commands.Add(1)
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		s.commandErrors.Add(1)
		s.metrics.RecordCommand(ctx, "invalid", 0, true)
		return protocol.ErrorReply("", err)
	}
	start := time.Now()
	reply := s.Handle(ctx, cmd)
	failed := reply.Err != ""
	if failed {
		s.commandErrors.Add(1)
	}
	s.metrics.RecordCommand(ctx, string(cmd.Op), time.Since(start).Seconds(), failed)
	return reply
}

// Handle executes a decoded command against the store.
func (s *Server) Handle(ctx context.Context, cmd protocol.Command) protocol.Reply {
	reply := protocol.Reply{Op: cmd.Op}
	switch cmd.Op {
	case protocol.OpSet:
		if cmd.TTL > math.MaxInt64/int64(time.Second) {
			return protocol.ErrorReply(cmd.Op, errors.New("ttl too large"))
		}
		if err := s.store.Set(ctx, cmd.Key, cmd.Value, time.Duration(cmd.TTL)*time.Second); err != nil {
			return protocol.ErrorReply(cmd.Op, err)
		}
		reply.Found = true
	case protocol.OpGet:
		v, found, err := s.store.Get(ctx, cmd.Key)
		if err != nil {
			return protocol.ErrorReply(cmd.Op, err)
		}
		reply.Value, reply.Found = v, found
	case protocol.OpDel:
		deleted, err := s.store.Delete(ctx, cmd.Key)
		if err != nil {
			return protocol.ErrorReply(cmd.Op, err)
		}
		reply.Found = deleted
	case protocol.OpAll:
		keys, err := s.store.Keys(ctx)
		if err != nil {
			return protocol.ErrorReply(cmd.Op, err)
		}
		reply.Keys = keys
	case protocol.OpPing:
		reply.Found = true
	default:
		return protocol.ErrorReply(cmd.Op, errors.New("unknown command"))
	}
	return reply
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() protocol.Stats {
	return protocol.Stats{
		ConnectionsTotal:  s.connsTotal.Load(),
		ConnectionsActive: s.connsActive.Load(),
		Commands:          s.commands.Load(),
		CommandErrors:     s.commandErrors.Load(),
		Swept:             s.swept.Load(),
		Entries:           s.store.Len(),
	}
}

func (s *Server) write(conn net.Conn, reply protocol.Reply) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(reply.Encode())
	return err
}

// track registers conn unless the server is already shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.connsTotal.Add(1)
	s.connsActive.Add(1)
	s.metrics.Connections.Add(context.Background(), 1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if ok {
		s.connsActive.Add(-1)
		s.metrics.Connections.Add(context.Background(), -1)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}
