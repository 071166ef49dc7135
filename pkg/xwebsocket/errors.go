package xwebsocket

import (
	"errors"
	"fmt"
	"net"
)

// ErrPeerClosed is returned when the peer finished the stream with a close frame.
var ErrPeerClosed = errors.New("closed by peer")

// BindError is fatal: the listen address is invalid or unavailable.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %q: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// HandshakeError drops a single connection, the listener keeps accepting.
type HandshakeError struct {
	Remote net.Addr
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Remote == nil {
		return fmt.Sprintf("websocket handshake failed: %v", e.Err)
	}
	return fmt.Sprintf("websocket handshake with %v failed: %v", e.Remote, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// SendError ends the writing side of a session.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send frame: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError ends the reading side of a session.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("failed to receive frame: %v", e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }
