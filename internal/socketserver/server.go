package socketserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blindodon/mastodon-core/internal/config"
	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/logger"
	"github.com/blindodon/mastodon-core/internal/socketutil"
)

const (
	defaultMaxConns = 16
	defaultMaxFrame = 8 << 20
	// drainTimeout bounds how long Stop waits for in-flight requests.
	drainTimeout = 30 * time.Second
)

// Handler answers one request. It must return a response carrying the
// request's id.
type Handler interface {
	Handle(ctx context.Context, msg *ipc.Message) *ipc.Message
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *ipc.Message) *ipc.Message

func (f HandlerFunc) Handle(ctx context.Context, msg *ipc.Message) *ipc.Message {
	return f(ctx, msg)
}

// Server accepts IPC connections on the local endpoint
type Server struct {
	path     string
	cfg      config.SocketConfig
	mode     os.FileMode
	handler  Handler
	hub      *Hub
	log      *logger.Logger
	listener net.Listener

	// Connection tracking
	connMu   sync.Mutex
	clients  map[string]*Client
	maxConns int
	conns    sync.WaitGroup
	nextID   atomic.Uint64

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	acceptWG sync.WaitGroup
}

// NewServer creates a server for the socket section of cfg.
func NewServer(cfg *config.Config, handler Handler) (*Server, error) {
	mode, err := cfg.SocketMode()
	if err != nil {
		return nil, err
	}
	s := &Server{
		path:     cfg.Socket.Path,
		cfg:      cfg.Socket,
		mode:     mode,
		handler:  handler,
		hub:      NewHub(),
		log:      logger.Global().WithPrefix("socket"),
		clients:  make(map[string]*Client),
		maxConns: defaultMaxConns,
		stopChan: make(chan struct{}),
	}
	if cfg.Socket.MaxConnections > 0 {
		s.maxConns = cfg.Socket.MaxConnections
	}
	if s.cfg.MaxFrameBytes <= 0 {
		s.cfg.MaxFrameBytes = defaultMaxFrame
	}
	return s, nil
}

// Start binds the endpoint and begins accepting connections. A bind failure
// is returned; everything after that is logged. The server stops when ctx
// is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}
	if s.path == "" {
		return fmt.Errorf("socket path is not configured")
	}

	listener, err := socketutil.Listen(s.path, s.mode)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	s.listener = listener
	s.running = true

	go s.hub.Run()

	s.acceptWG.Add(1)
	go s.acceptLoop()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopChan:
		}
	}()

	s.log.Info("IPC server listening on %s (max connections: %d)", s.path, s.maxConns)
	return nil
}

// Stop stops accepting, waits for in-flight requests to be answered and
// closes every connection. Concurrent callers return once the server has
// stopped.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		close(s.stopChan)
		if !running {
			return
		}

		s.log.Info("stopping IPC server")
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("error closing listener: %v", err)
		}
		s.acceptWG.Wait()
		if err := socketutil.Cleanup(s.path); err != nil {
			s.log.Warn("failed to remove socket %s: %v", s.path, err)
		}

		for _, c := range s.snapshot() {
			c.drain()
		}
		done := make(chan struct{})
		go func() {
			s.conns.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			s.log.Warn("connections still busy after %s, closing them", drainTimeout)
			for _, c := range s.snapshot() {
				c.Close()
			}
			<-done
		}

		s.hub.Shutdown()

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.log.Info("IPC server stopped")
	})
}

func (s *Server) acceptLoop() {
	defer s.acceptWG.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.stopChan:
				return
			default:
			}
			s.log.Error("error accepting connection: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		c := newClient(fmt.Sprintf("conn_%d", s.nextID.Add(1)), conn, s)
		if !s.trackClient(c) {
			s.log.Warn("connection limit reached, rejecting connection")
			conn.Close()
			continue
		}
		c.Start()
		s.log.Info("connection accepted: %s (total: %d)", c.ID, s.ClientCount())
	}
}

// trackClient registers c unless the server is full or stopping.
func (s *Server) trackClient(c *Client) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	select {
	case <-s.stopChan:
		return false
	default:
	}
	if len(s.clients) >= s.maxConns {
		return false
	}
	s.clients[c.ID] = c
	s.conns.Add(1)
	return true
}

func (s *Server) untrackClient(c *Client) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if _, ok := s.clients[c.ID]; ok {
		delete(s.clients, c.ID)
		s.conns.Done()
	}
}

func (s *Server) snapshot() []*Client {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// ClientCount returns the number of open connections.
func (s *Server) ClientCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.clients)
}

// Broadcast queues an event on every connection.
func (s *Server) Broadcast(msg *ipc.Message) {
	frame, err := msg.Encode()
	if err != nil {
		s.log.Error("failed to encode %s: %v", msg.MethodName(), err)
		return
	}
	s.hub.Broadcast(msg.MethodName(), frame)
}

// Path is the bound endpoint.
func (s *Server) Path() string {
	return s.path
}
