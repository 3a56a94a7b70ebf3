// Package server exposes the hub over TCP: every client gets its own hub
// subscription, a writer goroutine batching bus frames toward it, and a
// reader goroutine feeding its frames back onto the bus.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/can"
	"github.com/kstaniek/go-canopen-hub/internal/hub"
	"github.com/kstaniek/go-canopen-hub/internal/logging"
	"github.com/kstaniek/go-canopen-hub/internal/metrics"
	"github.com/kstaniek/go-canopen-hub/internal/transport"
)

// Codec is the stream framing the server speaks with clients.
type Codec interface {
	transport.MultiFrameDecoder
	transport.FrameBatchEncoder
}

// Server owns the TCP listener and coordinates client lifecycle.
type Server struct {
	mu    sync.RWMutex
	addr  string
	Hub   *hub.Hub
	Codec Codec

	frameFilter func(*can.Frame) bool

	flushInterval time.Duration
	batchSize     int
	readDeadline  time.Duration
	maxClients    int

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	listener  net.Listener
	clientsMu sync.Mutex
	clients   map[*hub.Node]net.Conn
	wg        sync.WaitGroup
	logger    *slog.Logger

	nextConnID        uint64
	totalAccepted     atomic.Uint64
	totalConnected    atomic.Uint64
	totalDisconnected atomic.Uint64
	totalBusOverflow  atomic.Uint64
	totalBusErrors    atomic.Uint64
}

const (
	defaultFlushInterval = 5 * time.Millisecond
	defaultBatchSize     = 64
	defaultReadDeadline  = 60 * time.Second
)

type Option func(*Server)

func New(opts ...Option) *Server {
	s := &Server{
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		readDeadline:  defaultReadDeadline,
		readyCh:       make(chan struct{}),
		errCh:         make(chan error, 1),
		clients:       make(map[*hub.Node]net.Conn),
		logger:        logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) Option { return func(s *Server) { s.addr = a } }
func WithHub(hb *hub.Hub) Option     { return func(s *Server) { s.Hub = hb } }
func WithCodec(c Codec) Option       { return func(s *Server) { s.Codec = c } }

// WithFrameFilter drops inbound client frames the filter rejects.
func WithFrameFilter(fn func(*can.Frame) bool) Option {
	return func(s *Server) { s.frameFilter = fn }
}

func WithFlushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithReadDeadline(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithMaxClients(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts TCP clients and spawns reader/writer goroutines.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection, registers the client and spawns
// its IO goroutines. Returns nil on success; a wrapped error on fatal
// listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if s.maxClients > 0 && s.Hub.Count() >= s.maxClients {
		metrics.IncHubReject()
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	node := s.Hub.Subscribe()
	s.clientsMu.Lock()
	s.clients[node] = conn
	s.clientsMu.Unlock()
	s.totalConnected.Add(1)
	connLogger.Info("client_connected")
	s.startWriter(ctx.Done(), conn, node, connLogger)
	s.startReader(ctx.Done(), conn, node, connLogger)
	return nil
}

func (s *Server) dropClient(node *hub.Node) {
	node.Close()
	s.clientsMu.Lock()
	delete(s.clients, node)
	s.clientsMu.Unlock()
}

// Shutdown gracefully closes all resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for node, conn := range s.clients {
		_ = conn.Close()
		node.Close()
		delete(s.clients, node)
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load(),
			"bus_overflow", s.totalBusOverflow.Load(),
			"bus_errors", s.totalBusErrors.Load())
		return nil
	}
}
