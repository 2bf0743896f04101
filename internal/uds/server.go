package uds

import (
	"fmt"
	"log"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

// HandlerFunc answers one control command.
type HandlerFunc func(req *Request) *Response

// Server accepts connections on the control socket and dispatches each
// request to its registered handler. One connection carries exactly one
// request/response pair.
type Server struct {
	socketPath  string
	listener    net.Listener
	connTimeout time.Duration
	logf        func(format string, args ...any)

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	closing chan struct{}
	wg      sync.WaitGroup
}

func NewServer(socketPath string) *Server {
	return &Server{
		socketPath:  socketPath,
		connTimeout: 30 * time.Second,
		logf:        log.Printf,
		handlers:    make(map[string]HandlerFunc),
		closing:     make(chan struct{}),
	}
}

// SetConnTimeout bounds how long a single connection may take to deliver
// its request and consume the response.
func (s *Server) SetConnTimeout(d time.Duration) {
	s.connTimeout = d
}

// SetLogf redirects the server's diagnostics, typically into the owning
// daemon's leveled log.
func (s *Server) SetLogf(logf func(format string, args ...any)) {
	s.logf = logf
}

// Handle registers the handler for a command. Registering after Start is
// safe.
func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = handler
}

// Start binds the socket and begins accepting in the background. A stale
// socket file from a crashed daemon is replaced.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}

	// Only the workspace owner may drive the daemon.
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.listener = listener
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener, waits for in-flight connections, and removes
// the socket file.
func (s *Server) Stop() error {
	close(s.closing)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
				s.logf("accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			s.logf("panic serving control request: %v\n%s", r, debug.Stack())
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logf("read request: %v", err)
		return
	}

	if err := WriteFrame(conn, s.dispatch(&req)); err != nil {
		s.logf("write response: %v", err)
	}
}

func (s *Server) dispatch(req *Request) *Response {
	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion))
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Command]
	s.mu.RUnlock()

	if !ok {
		return ErrorResponse(ErrCodeUnknownCommand,
			fmt.Sprintf("unknown command: %q", req.Command))
	}
	return handler(req)
}
