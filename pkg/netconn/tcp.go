package netconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/udit2303/comp2/pkg/util"
)

// ErrSessionBusy is returned when a second TCP session is started while one is active.
var ErrSessionBusy = errors.New("another session is active")

var (
	sessionActive bool
	lock          sync.Mutex
)

// SessionError reports a failed socket operation.
type SessionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *SessionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Handler runs one session over an established connection.
type Handler func(ctx context.Context, rw io.ReadWriter) error

// Server accepts one client at a time.
type Server struct {
	ln  net.Listener
	log *util.Logger
}

// Listen binds addr, e.g. ":2787".
func Listen(log *util.Logger, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &SessionError{Op: "listen", Addr: addr, Err: err}
	}
	return NewServer(log, ln), nil
}

// NewServer serves on an already bound listener.
func NewServer(log *util.Logger, ln net.Listener) *Server {
	log.Info("TCP server started", "address", ln.Addr().String())
	return &Server{ln: ln, log: log}
}

// ListenPort binds every interface on port.
func ListenPort(log *util.Logger, port uint16) (*Server, error) {
	return Listen(log, ":"+strconv.Itoa(int(port)))
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts clients and runs h for each, one after another. A failed session is
// logged and the server goes back to accepting. Serve returns when ctx is done or
// the listener is closed.
func (s *Server) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return &SessionError{Op: "accept", Addr: s.ln.Addr().String(), Err: err}
		}
		if err := runSession(ctx, s.log, conn, h); err != nil && ctx.Err() == nil {
			s.log.Warn("Client session ended with error", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Connect dials host:port and runs h over the connection.
func Connect(ctx context.Context, log *util.Logger, host string, port uint16, h Handler) error {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	log.Info("Attempting to establish connection", "remote", addr)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SessionError{Op: "dial", Addr: addr, Err: err}
	}
	return runSession(ctx, log, conn, h)
}

func runSession(ctx context.Context, log *util.Logger, conn net.Conn, h Handler) error {
	remote := conn.RemoteAddr().String()
	log = log.WithSessionID(uuid.NewString()).With("remote", remote)

	lock.Lock()
	if sessionActive {
		lock.Unlock()
		conn.Close()
		log.Warn("Connection rejected: session already active")
		return ErrSessionBusy
	}
	sessionActive = true
	lock.Unlock()
	defer func() {
		lock.Lock()
		sessionActive = false
		lock.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug("Error closing connection", "error", err)
		}
	}()

	stats := NewStats()
	log.Info("Session started")
	err := h(ctx, stats.Wrap(conn))
	log.Info("Session ended", "traffic", stats.String())

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var serr *SessionError
		if errors.As(err, &serr) && serr.Addr == "" {
			serr.Addr = remote
		}
		return err
	}
	return nil
}
