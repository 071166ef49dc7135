package xwebsocket

import (
	"io"
	"net"
	"time"
)

// connWithTimeout arms a deadline before every read or write, zero disables it.
type connWithTimeout struct {
	net.Conn
	wt time.Duration
	rt time.Duration
}

func (c connWithTimeout) Write(p []byte) (int, error) {
	if c.wt > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.wt)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

func (c connWithTimeout) Read(p []byte) (int, error) {
	if c.rt > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.rt)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

// bufferedConn replays bytes the handshake reader consumed past the response.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
