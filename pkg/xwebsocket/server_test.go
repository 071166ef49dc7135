package xwebsocket_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"golang.org/x/sync/errgroup"
	"gotest.tools/assert"

	"github.com/e-zhydzetski/telemetry-stream/pkg/xwebsocket"
)

// echoSession writes every text message back.
type echoSession struct {
	conn      net.Conn
	send      *xwebsocket.Sender
	recv      *xwebsocket.Receiver
	closeOnce sync.Once
	closed    chan error
}

func newEchoSession(conn net.Conn, state ws.State) *echoSession {
	send, recv := xwebsocket.Split(conn, state)
	return &echoSession{conn: conn, send: send, recv: recv, closed: make(chan error, 1)}
}

func (s *echoSession) Consume() error {
	op, p, err := s.recv.Receive()
	if err != nil {
		return err
	}
	if op == ws.OpText {
		return s.send.WriteText(p)
	}
	return nil
}

func (s *echoSession) Close(err error) {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		s.closed <- err
	})
}

// recorder collects text frames on the client side.
type recorder struct {
	*echoSession
	texts chan string
}

func (r *recorder) Consume() error {
	op, p, err := r.recv.Receive()
	if err != nil {
		return err
	}
	if op == ws.OpText {
		r.texts <- string(p)
	}
	return nil
}

func startEcho(t *testing.T, ctx context.Context, g *errgroup.Group, opts ...xwebsocket.ServerOption) *xwebsocket.Server {
	t.Helper()
	srv, err := xwebsocket.StartSimpleServer(ctx, g, "127.0.0.1:0", func(ctx context.Context, conn net.Conn) xwebsocket.WSSession {
		return newEchoSession(conn, ws.StateServerSide)
	}, opts...)
	assert.NilError(t, err)
	return srv
}

func dialRecorder(ctx context.Context, port int) (*recorder, error) {
	var rec *recorder
	_, err := xwebsocket.NewClient(ctx, fmt.Sprintf("ws://127.0.0.1:%d/", port), func(ctx context.Context, conn net.Conn) xwebsocket.WSSession {
		rec = &recorder{echoSession: newEchoSession(conn, ws.StateClientSide), texts: make(chan string, 8)}
		return rec
	})
	return rec, err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	srv := startEcho(t, ctx, g)

	cli, err := dialRecorder(ctx, srv.Port())
	assert.NilError(t, err)
	assert.NilError(t, cli.send.WriteText([]byte("hello")))

	select {
	case got := <-cli.texts:
		assert.Equal(t, got, "hello")
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
	waitFor(t, func() bool { return srv.Active() == 1 })
	assert.Equal(t, srv.Total(), uint64(1))

	assert.NilError(t, cli.send.WriteClose(ws.StatusNormalClosure, ""))
	select {
	case err := <-cli.closed:
		assert.Assert(t, errors.Is(err, xwebsocket.ErrPeerClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("close handshake did not finish")
	}
	waitFor(t, func() bool { return srv.Active() == 0 })

	cancel()
	assert.NilError(t, g.Wait())
}

func TestBindError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	_, err := xwebsocket.StartSimpleServer(ctx, g, "not an address", nil)
	var be *xwebsocket.BindError
	assert.Assert(t, errors.As(err, &be), "got %v", err)
	assert.Equal(t, be.Addr, "not an address")

	srv := startEcho(t, ctx, g)
	_, err = xwebsocket.StartSimpleServer(ctx, g, fmt.Sprintf("127.0.0.1:%d", srv.Port()), nil)
	assert.Assert(t, errors.As(err, &be), "address in use must fail, got %v", err)

	cancel()
	assert.NilError(t, g.Wait())
}

func TestMalformedUpgradeKeepsListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	srv := startEcho(t, ctx, g)

	conn, err := net.Dial("tcp", srv.Addr().String())
	assert.NilError(t, err)
	_, err = fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	assert.NilError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	assert.NilError(t, err)
	assert.Equal(t, resp.StatusCode, http.StatusBadRequest)
	_ = conn.Close()

	cli, err := dialRecorder(ctx, srv.Port())
	assert.NilError(t, err)
	assert.NilError(t, cli.send.WriteText([]byte("still here")))
	select {
	case got := <-cli.texts:
		assert.Equal(t, got, "still here")
	case <-time.After(2 * time.Second):
		t.Fatal("listener stopped serving after bad handshake")
	}
	assert.Equal(t, srv.Total(), uint64(1))

	cancel()
	assert.NilError(t, g.Wait())
}

type admitFunc func(ctx context.Context, remote net.Addr) (bool, error)

func (f admitFunc) Admit(ctx context.Context, remote net.Addr) (bool, error) {
	return f(ctx, remote)
}

func TestAdmissionRejects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var mx sync.Mutex
	allow := false
	srv := startEcho(t, ctx, g, xwebsocket.ServerAdmission(admitFunc(func(ctx context.Context, remote net.Addr) (bool, error) {
		mx.Lock()
		defer mx.Unlock()
		return allow, nil
	})))

	_, err := dialRecorder(ctx, srv.Port())
	assert.ErrorContains(t, err, "429")
	assert.Equal(t, srv.Total(), uint64(0))

	mx.Lock()
	allow = true
	mx.Unlock()
	_, err = dialRecorder(ctx, srv.Port())
	assert.NilError(t, err)

	cancel()
	assert.NilError(t, g.Wait())
}

func TestAdmissionFailsOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	srv := startEcho(t, ctx, g, xwebsocket.ServerAdmission(admitFunc(func(ctx context.Context, remote net.Addr) (bool, error) {
		return false, errors.New("limiter down")
	})))

	_, err := dialRecorder(ctx, srv.Port())
	assert.NilError(t, err)

	cancel()
	assert.NilError(t, g.Wait())
}

func TestShutdownClosesSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	srv := startEcho(t, gctx, g)

	cli, err := dialRecorder(context.Background(), srv.Port())
	assert.NilError(t, err)
	waitFor(t, func() bool { return srv.Active() == 1 })

	cancel()
	assert.NilError(t, g.Wait())
	assert.Equal(t, srv.Active(), 0)

	select {
	case err := <-cli.closed:
		assert.Assert(t, err != nil)
	case <-time.After(2 * time.Second):
		t.Fatal("client not disconnected on server shutdown")
	}
}
