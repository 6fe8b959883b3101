package testwire

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Handler is the interface for handling incoming TCP connections.
type Handler interface {
	// Handle is called on its own goroutine for each new connection.
	// ctx is canceled when the server shuts down; the server closes the
	// connection once Handle returns.
	Handle(ctx context.Context, conn *net.TCPConn)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn *net.TCPConn)

// Handle calls f(ctx, conn).
func (f HandlerFunc) Handle(ctx context.Context, conn *net.TCPConn) {
	f(ctx, conn)
}

// TransportHandler returns a Handler that wraps every accepted connection
// as a Transport configured with opt and passes it to fn.
func TransportHandler(fn func(ctx context.Context, t *Transport), opt ...Option) Handler {
	return HandlerFunc(func(ctx context.Context, conn *net.TCPConn) {
		t := NewTransport(conn, opt...)
		defer t.Close()
		fn(ctx, t)
	})
}

// Server represents a TCP server that listens for incoming connections.
// Every connection is handled by an independently supervised goroutine:
// a panicking handler is recovered and logged without affecting the
// listener or sibling connections.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration

	mu          sync.Mutex
	shutdown    bool
	conns       map[*net.TCPConn]struct{}
	handlers    sync.WaitGroup
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server waits up to this duration for
// handlers to return on their own before closing the remaining connections.
// Default is 0 (connections are closed immediately).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// New creates a new TCP server bound to the specified address.
// Port 0 requests an OS-assigned port; read it back with Addr or Port.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		conns:       make(map[*net.TCPConn]struct{}),
		shutdownNow: make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Listen resolves host and port and creates a Server bound to them.
func Listen(host string, port int, opts ...ServerOption) (*Server, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, err
	}
	return New(addr, opts...)
}

// Serve starts accepting connections and dispatching them to the handler.
// It blocks until the context is canceled, Close is called, or an
// unrecoverable accept error occurs, and returns only after every handler
// has returned.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	var err error
	for {
		conn, acceptErr := s.listener.AcceptTCP()
		if acceptErr != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				err = ctx.Err()
				if err == nil {
					err = net.ErrClosed
				}
				break
			}

			// Check if it's a temporary error
			var netErr net.Error
			if errors.As(acceptErr, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", acceptErr)
			err = acceptErr
			break
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)

		s.track(conn)
		s.handlers.Add(1)
		go s.supervise(ctx, conn, handler)
	}

	cancel()
	s.drain()
	s.logger.Info("server stopped", "addr", s.listener.Addr())
	return err
}

// supervise runs handler for one connection and confines its failure.
func (s *Server) supervise(ctx context.Context, conn *net.TCPConn, handler Handler) {
	defer s.handlers.Done()
	defer s.untrack(conn)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("connection handler panicked",
				"remote_addr", conn.RemoteAddr(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	handler.Handle(ctx, conn)
}

func (s *Server) track(conn *net.TCPConn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn *net.TCPConn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// drain waits for handlers to finish, closing lingering connections after
// the shutdown timeout (or at once if Close bypassed it).
func (s *Server) drain() {
	finished := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(finished)
	}()

	if s.shutdownTimeout > 0 {
		s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
		select {
		case <-finished:
			return
		case <-time.After(s.shutdownTimeout):
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout bypassed via Close()")
		}
	}

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	<-finished
}

// Close stops the server by closing the underlying listener. Serve then
// closes every open connection and returns once the handlers are done.
// If a shutdown timeout is configured, Close bypasses the remaining timeout.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	// Signal to bypass any pending shutdown timeout
	select {
	case s.shutdownNow <- struct{}{}:
	default:
		// Channel already has a signal or no one is listening
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the port the listener is bound to.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// ActiveConns returns the number of connections currently being handled.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
