package xwebsocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Admitter decides whether a remote peer may open one more session.
type Admitter interface {
	Admit(ctx context.Context, remote net.Addr) (bool, error)
}

type ServerOption func(s *Server)

func ServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

func ServerAdmission(a Admitter) ServerOption {
	return func(s *Server) {
		s.admitter = a
	}
}

// ServerHandshakeTimeout bounds the upgrade only; established sessions have no idle timeout.
func ServerHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.handshakeTimeout = d
	}
}

// ServerWriteTimeout is the per-frame write deadline of every session.
func ServerWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

type Server struct {
	addr *net.TCPAddr

	log              *slog.Logger
	admitter         Admitter
	handshakeTimeout time.Duration
	writeTimeout     time.Duration

	mx       sync.Mutex
	sessions map[uuid.UUID]WSSession
	total    uint64
	wg       sync.WaitGroup
}

func (s *Server) Port() int {
	return s.addr.Port
}

func (s *Server) Addr() *net.TCPAddr {
	return s.addr
}

// Active returns the number of live sessions.
func (s *Server) Active() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.sessions)
}

// Total returns the number of sessions opened since start.
func (s *Server) Total() uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.total
}

// StartSimpleServer binds addr and runs the accept loop in g until ctx is done.
// Every accepted connection is upgraded and served in its own goroutine.
// The loop returns an error only when the listener itself breaks.
func StartSimpleServer(ctx context.Context, g *errgroup.Group, addr string, sessionFactoryFunc WSSessionFactoryFunc, opts ...ServerOption) (*Server, error) {
	s := &Server{
		log:              slog.Default(),
		handshakeTimeout: 5 * time.Second,
		writeTimeout:     1 * time.Second,
		sessions:         map[uuid.UUID]WSSession{},
	}
	for _, opt := range opts {
		opt(s)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	s.addr = ln.Addr().(*net.TCPAddr)
	s.log.Info("listening", "addr", s.addr.String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	g.Go(func() error {
		defer s.closeAll(ctx)
		return s.acceptLoop(ctx, ln, sessionFactoryFunc)
	})

	return s, nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, sessionFactoryFunc WSSessionFactoryFunc) error {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept on %v: %w", s.addr, err)
			}
			// transient (EMFILE, ECONNABORTED, ...): back off like net/http does
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			s.log.Warn("accept failed", "err", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn, sessionFactoryFunc)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, sessionFactoryFunc WSSessionFactoryFunc) {
	remote := conn.RemoteAddr()

	if s.handshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.handshakeTimeout))
	}
	denied := false
	u := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			if s.admitter == nil {
				return nil
			}
			ok, err := s.admitter.Admit(ctx, remote)
			if err != nil {
				s.log.Warn("admission check failed, letting connection in", "remote", remote.String(), "err", err)
				return nil
			}
			if !ok {
				denied = true
				return ws.RejectConnectionError(
					ws.RejectionStatus(http.StatusTooManyRequests),
					ws.RejectionReason("too many connections"),
				)
			}
			return nil
		},
	}
	if _, err := u.Upgrade(conn); err != nil {
		_ = conn.Close()
		if denied {
			s.log.Warn("connection rejected by admission", "remote", remote.String())
			return
		}
		s.log.Warn("handshake failed", "err", &HandshakeError{Remote: remote, Err: err})
		return
	}
	_ = conn.SetDeadline(time.Time{})

	id := uuid.New()
	log := s.log.With("session", id.String(), "remote", remote.String())
	sess := sessionFactoryFunc(withSessionID(ctx, id), connWithTimeout{
		Conn: conn,
		wt:   s.writeTimeout,
		rt:   0, // can't use read timeout in wait model (without events)
	})
	if !s.register(id, sess) {
		sess.Close(ctx.Err())
		return
	}
	log.Info("session opened")

	var err error
	for {
		if err = sess.Consume(); err != nil {
			sess.Close(err)
			break
		}
	}
	s.unregister(id)

	switch {
	case errors.Is(err, ErrPeerClosed):
		log.Info("session closed by peer")
	case ctx.Err() != nil:
		log.Debug("session closed on shutdown")
	default:
		log.Error("session receive failed", "err", err)
	}
}

func (s *Server) register(id uuid.UUID, sess WSSession) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.sessions == nil { // closed
		return false
	}
	s.sessions[id] = sess
	s.total++
	return true
}

func (s *Server) unregister(id uuid.UUID) {
	s.mx.Lock()
	delete(s.sessions, id) // delete from nil map is ok
	s.mx.Unlock()
}

// closeAll runs after the accept loop, so only in-flight handshakes can still register.
func (s *Server) closeAll(ctx context.Context) {
	s.mx.Lock()
	sessions := s.sessions
	s.sessions = nil
	s.mx.Unlock()

	for _, session := range sessions {
		session.Close(ctx.Err())
	}
	s.wg.Wait()
}
