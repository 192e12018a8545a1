// Package server hosts the worker behind a TCP listener speaking the framed
// wire protocol. Every connected client may send commands; every outbound
// worker message is broadcast to all of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/codeforge/internal/jobs"
	"github.com/kingrea/codeforge/internal/wire"
)

// ServerStatus reports runtime lifecycle states for the listener.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

var (
	errNotListening = errors.New("server: not listening")
)

// Submitter accepts decoded client commands. *worker.Worker satisfies it.
type Submitter interface {
	Submit(ctx context.Context, msg wire.ClientMsg) error
}

// Logger matches the minimal logging surface used across codeforge.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Server wraps the TCP listener and the connected clients.
type Server struct {
	settings Settings
	sink     Submitter
	logger   Logger
	queue    func() *jobs.JobSet
	clock    func() time.Time

	mu        sync.RWMutex
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
	clients   map[*peer]struct{}
}

// peer is one connected client. mu serializes writes to conn.
type peer struct {
	mu     sync.Mutex
	conn   net.Conn
	writer *wire.Writer
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueueSnapshot sends every new client the current job queue as an
// updateJobQueue message before any broadcast.
func WithQueueSnapshot(fn func() *jobs.JobSet) Option {
	return func(s *Server) {
		s.queue = fn
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New prepares a server that forwards commands to sink.
func New(settings Settings, sink Submitter, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings: settings,
		sink:     sink,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
		clients:  map[*peer]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Listen binds the TCP listener.
func (s *Server) Listen() error {
	if s == nil {
		return fmt.Errorf("server: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("server: already listening")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	s.status = StatusReady
	s.logger.Printf("server: listening on %s", listener.Addr().String())
	return nil
}

// Serve accepts clients and broadcasts outbox until ctx is cancelled. Listen
// must have been called. Returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context, outbox <-chan wire.ServerMsg) error {
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()
	if listener == nil {
		return errNotListening
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		s.drain()
		return nil
	})
	g.Go(func() error {
		return s.broadcast(gctx, outbox)
	})
	g.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("server: accept: %w", err)
			}
			c := s.register(conn)
			if c == nil {
				continue
			}
			g.Go(func() error {
				s.handle(gctx, c)
				return nil
			})
		}
	})
	return g.Wait()
}

// Addr returns the bound TCP address once the server is listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Clients reports how many connections are open.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Uptime reports how long the listener has been bound.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return s.clock().Sub(s.startTime)
}

func (s *Server) register(conn net.Conn) *peer {
	c := &peer{conn: conn, writer: wire.NewWriter(conn)}
	// The greeting is written while c.mu is held, so a broadcast that sees
	// the new peer waits until the snapshot is on the wire.
	c.mu.Lock()
	defer c.mu.Unlock()
	s.mu.Lock()
	if s.status == StatusDraining {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Printf("server: client %s connected", conn.RemoteAddr())
	if s.queue != nil {
		if set := s.queue(); set != nil {
			s.sendLocked(c, wire.ServerMsg{UpdateJobQueue: &wire.UpdateJobQueue{Jobs: set}})
		}
	}
	return c
}

func (s *Server) drop(c *peer) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		_ = c.conn.Close()
		s.logger.Printf("server: client %s disconnected", c.conn.RemoteAddr())
	}
}

func (s *Server) drain() {
	s.mu.Lock()
	s.status = StatusDraining
	listener := s.listener
	s.listener = nil
	clients := make([]*peer, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = map[*peer]struct{}{}
	s.mu.Unlock()
	if listener != nil {
		_ = listener.Close()
	}
	for _, c := range clients {
		_ = c.conn.Close()
	}
	s.logger.Printf("server: stopped (%d client(s) closed)", len(clients))
}

// handle reads frames from one client. Oversized frames and payloads that do
// not decode are logged and dropped; the connection stays open.
func (s *Server) handle(ctx context.Context, c *peer) {
	defer s.drop(c)
	reader := wire.NewReader(c.conn, s.settings.MaxFrameBytes)
	for {
		payload, err := reader.Next()
		if err != nil {
			if errors.Is(err, wire.ErrFrameTooLarge) {
				s.logger.Printf("server: %s: %v", c.conn.RemoteAddr(), err)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Printf("server: %s: read: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
		msg, err := wire.DecodeClient(payload)
		if err != nil {
			s.logger.Printf("server: %s: dropping payload: %v", c.conn.RemoteAddr(), err)
			continue
		}
		if err := s.sink.Submit(ctx, msg); err != nil {
			s.logger.Printf("server: submit %s: %v", msg.Kind(), err)
			return
		}
	}
}

func (s *Server) broadcast(ctx context.Context, outbox <-chan wire.ServerMsg) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-outbox:
			if !ok {
				return nil
			}
			payload, err := wire.EncodeServer(msg)
			if err != nil {
				s.logger.Printf("server: encode %s: %v", msg.Kind(), err)
				continue
			}
			s.mu.RLock()
			targets := make([]*peer, 0, len(s.clients))
			for c := range s.clients {
				targets = append(targets, c)
			}
			s.mu.RUnlock()
			for _, c := range targets {
				s.write(c, payload)
			}
		}
	}
}

func (s *Server) sendLocked(c *peer, msg wire.ServerMsg) {
	payload, err := wire.EncodeServer(msg)
	if err != nil {
		s.logger.Printf("server: encode %s: %v", msg.Kind(), err)
		return
	}
	s.writeLocked(c, payload)
}

func (s *Server) write(c *peer, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.writeLocked(c, payload)
}

// writeLocked requires c.mu.
func (s *Server) writeLocked(c *peer, payload []byte) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	if err := c.writer.WritePayload(payload); err != nil {
		s.logger.Printf("server: write to %s: %v", c.conn.RemoteAddr(), err)
		s.drop(c)
	}
}
