package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/gobwas/ws"

	"github.com/e-zhydzetski/telemetry-stream/pkg/telemetry"
	"github.com/e-zhydzetski/telemetry-stream/pkg/xchan"
	"github.com/e-zhydzetski/telemetry-stream/pkg/xwebsocket"
)

// Subscriber is the client side of a stream: it decodes samples and hands them out on Samples.
type Subscriber struct {
	conn    net.Conn
	send    *xwebsocket.Sender
	recv    *xwebsocket.Receiver
	samples *xchan.Safe[telemetry.Sample]

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Subscribe connects to a stream server, e.g. ws://127.0.0.1:8080.
func Subscribe(ctx context.Context, url string, opts ...xwebsocket.ClientOption) (*Subscriber, error) {
	var sub *Subscriber
	_, err := xwebsocket.NewClient(ctx, url, func(ctx context.Context, conn net.Conn) xwebsocket.WSSession {
		sub = newSubscriber(conn)
		return sub
	}, opts...)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func newSubscriber(conn net.Conn) *Subscriber {
	send, recv := xwebsocket.Split(conn, ws.StateClientSide)
	return &Subscriber{
		conn:    conn,
		send:    send,
		recv:    recv,
		samples: xchan.MakeSafe(xchan.WithBuffer[telemetry.Sample](16)),
		done:    make(chan struct{}),
	}
}

// Samples is closed when the stream ends, Err tells why.
func (s *Subscriber) Samples() <-chan telemetry.Sample {
	return s.samples.Ch()
}

// Done is closed after the connection is released.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err is valid after Done is closed.
func (s *Subscriber) Err() error {
	<-s.done
	return s.err
}

func (s *Subscriber) Consume() error {
	op, p, err := s.recv.Receive()
	if err != nil {
		return err
	}
	if op != ws.OpText {
		return nil
	}
	sample, err := telemetry.Decode(p)
	if err != nil {
		return fmt.Errorf("bad frame from server: %w", err)
	}
	s.samples.Send(sample) // dropped once Leave stopped delivery
	return nil
}

// Leave starts the close handshake and waits until the server confirms it or ctx ends.
// Samples already in flight are discarded.
func (s *Subscriber) Leave(ctx context.Context) error {
	if err := s.send.WriteClose(ws.StatusNormalClosure, ""); err != nil {
		s.Close(err)
		return err
	}
	s.samples.Close()
	select {
	case <-s.done:
		if errors.Is(s.err, xwebsocket.ErrPeerClosed) {
			return nil
		}
		return s.err
	case <-ctx.Done():
		s.Close(ctx.Err())
		return ctx.Err()
	}
}

func (s *Subscriber) Close(err error) {
	s.closeOnce.Do(func() {
		if !errors.Is(err, xwebsocket.ErrPeerClosed) {
			_ = s.send.WriteClose(ws.StatusNormalClosure, "")
		}
		s.err = err
		s.samples.Close()
		_ = s.conn.Close()
		close(s.done)
	})
}
