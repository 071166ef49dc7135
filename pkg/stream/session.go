// Package stream pushes telemetry samples over websocket sessions.
//
// Every server Session runs two activities over its own half of the
// connection: the emitter sends one sample per interval, and the reader
// (Consume, driven by the listener) drains client frames. Whichever ends
// first tears down the other; Close returns only after the emitter exited.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"

	"github.com/e-zhydzetski/telemetry-stream/pkg/telemetry"
	"github.com/e-zhydzetski/telemetry-stream/pkg/xwebsocket"
)

const DefaultInterval = 100 * time.Millisecond

type Options struct {
	Interval     time.Duration
	Logger       *slog.Logger
	NewGenerator func() *telemetry.Generator
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.NewGenerator == nil {
		o.NewGenerator = func() *telemetry.Generator {
			return telemetry.NewGenerator()
		}
	}
	return o
}

func NewSessionFactory(opts Options) xwebsocket.WSSessionFactoryFunc {
	opts = opts.withDefaults()
	return func(ctx context.Context, conn net.Conn) xwebsocket.WSSession {
		return StartSession(ctx, conn, opts)
	}
}

type Session struct {
	conn     net.Conn
	send     *xwebsocket.Sender
	recv     *xwebsocket.Receiver
	gen      *telemetry.Generator
	interval time.Duration
	log      *slog.Logger
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	emitDone  chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	sent      atomic.Uint64
}

// StartSession takes over an upgraded server-side connection and starts the emitter.
func StartSession(ctx context.Context, conn net.Conn, opts Options) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	send, recv := xwebsocket.Split(conn, ws.StateServerSide)

	log := opts.Logger
	if id, ok := xwebsocket.SessionID(ctx); ok {
		log = log.With("session", id.String())
	}

	s := &Session{
		conn:     conn,
		send:     send,
		recv:     recv,
		gen:      opts.NewGenerator(),
		interval: opts.Interval,
		log:      log,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		emitDone: make(chan struct{}),
	}
	go s.emit()
	return s
}

// Sent returns the number of samples written so far.
func (s *Session) Sent() uint64 {
	return s.sent.Load()
}

// Done is closed once the emitter has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.emitDone
}

func (s *Session) emit() {
	defer close(s.emitDone)

	for {
		if err := s.sendSample(); err != nil {
			s.logSendError(err)
			// on a peer close the reader is still answering it and tears down after
			if !errors.Is(err, xwebsocket.ErrPeerClosed) {
				s.stop()
			}
			return
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Session) sendSample() error {
	p, err := s.gen.Next().Encode()
	if err != nil {
		return err
	}
	if err := s.send.WriteText(p); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

func (s *Session) logSendError(err error) {
	if s.ctx.Err() != nil || errors.Is(err, xwebsocket.ErrPeerClosed) || errors.Is(err, net.ErrClosed) {
		s.log.Debug("emitter stopped", "err", err)
		return
	}
	s.log.Error("send failed, stopping stream", "err", err)
}

// stop cancels the emitter and unblocks the reader. Safe from the emitter itself.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}

// Consume drains one inbound message. A close frame ends the session with xwebsocket.ErrPeerClosed.
func (s *Session) Consume() error {
	_, err := s.recv.Skip()
	return err
}

func (s *Session) Close(err error) {
	s.closeOnce.Do(func() {
		if !errors.Is(err, xwebsocket.ErrPeerClosed) {
			_ = s.send.WriteClose(closeCode(s.ctx, err), "")
		}
		s.stop()
		<-s.emitDone
		s.log.Debug("session finished",
			"reason", err,
			"samples", s.Sent(),
			"duration", time.Since(s.started).Round(time.Millisecond),
		)
	})
}

func closeCode(ctx context.Context, err error) ws.StatusCode {
	var pe ws.ProtocolError
	switch {
	case errors.As(err, &pe):
		return ws.StatusProtocolError
	case ctx.Err() != nil:
		return ws.StatusGoingAway
	default:
		return ws.StatusNormalClosure
	}
}
