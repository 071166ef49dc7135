package xwebsocket

import (
	"context"
	"crypto/tls"
	"io"
	"time"

	"github.com/gobwas/ws"
)

type ClientOption func(c *clientConfig)

type clientConfig struct {
	dialer       ws.Dialer
	writeTimeout time.Duration
}

func ClientTLSConfig(tc *tls.Config) ClientOption {
	return func(c *clientConfig) {
		c.dialer.TLSConfig = tc
	}
}

func ClientDialTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.dialer.Timeout = d
	}
}

func ClientWriteTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.writeTimeout = d
	}
}

// NewClient dials connectAddr and consumes the session in background until it fails or ctx is done.
func NewClient(ctx context.Context, connectAddr string, sessionFactoryFunc WSSessionFactoryFunc, opts ...ClientOption) (WSSession, error) {
	cfg := clientConfig{
		writeTimeout: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	conn, bfr, _, err := cfg.dialer.Dial(ctx, connectAddr)
	if err != nil {
		return nil, &HandshakeError{Err: err}
	}
	if bfr != nil {
		// https://github.com/gobwas/ws/issues/19, a streaming server sends frames right after
		// the handshake response, so they may already sit in the handshake buffer
		conn = bufferedConn{
			Conn: conn,
			r:    io.MultiReader(bfr, conn),
		}
	}

	sess := sessionFactoryFunc(ctx, connWithTimeout{
		Conn: conn,
		wt:   cfg.writeTimeout,
		rt:   0, // can't use read timeout in wait model (without events)
	})

	closedCh := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sess.Close(ctx.Err())
		case <-closedCh:
		}
	}()

	go func() {
		for {
			if err := sess.Consume(); err != nil {
				sess.Close(err)
				break
			}
		}
		close(closedCh)
	}()
	return sess, nil
}
