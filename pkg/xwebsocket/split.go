package xwebsocket

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Split divides one upgraded connection into a send side and a receive side,
// so the writer and the reader loops each own only their half.
// Control frame replies produced while receiving go through the send side.
func Split(conn net.Conn, state ws.State) (*Sender, *Receiver) {
	s := &Sender{
		conn:  conn,
		state: state,
	}
	r := &Receiver{
		sender: s,
		rd: wsutil.Reader{
			Source:    conn,
			State:     state,
			CheckUTF8: true,
		},
		control: wsutil.ControlFrameHandler(s, state),
	}
	r.rd.OnIntermediate = r.control
	return s, r
}

// Sender serializes whole frames onto the connection.
type Sender struct {
	mx        sync.Mutex
	conn      net.Conn
	state     ws.State
	closing   bool // peer or we started the close handshake, no more data frames
	sentClose bool // our close frame is out, no frames at all
	buf       bytes.Buffer
}

// Write puts already framed bytes on the wire, used for control replies.
// Replies after our own close frame are dropped.
func (s *Sender) Write(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.sentClose {
		return len(p), nil
	}
	return s.conn.Write(p)
}

func (s *Sender) WriteText(p []byte) error {
	return s.writeFrame(ws.NewTextFrame(p), false)
}

// WriteClose sends a close frame, after which no data frames are written.
func (s *Sender) WriteClose(code ws.StatusCode, reason string) error {
	return s.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)), true)
}

func (s *Sender) writeFrame(f ws.Frame, closing bool) error {
	if s.state.ClientSide() {
		f = ws.MaskFrame(f)
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closing {
		return &SendError{Err: ErrPeerClosed}
	}
	if closing {
		s.closing = true
		s.sentClose = true
	}

	s.buf.Reset()
	if err := ws.WriteFrame(&s.buf, f); err != nil {
		return &SendError{Err: err}
	}
	if _, err := s.conn.Write(s.buf.Bytes()); err != nil {
		return &SendError{Err: err}
	}
	return nil
}

func (s *Sender) markClosing() {
	s.mx.Lock()
	s.closing = true
	s.mx.Unlock()
}

// Receiver reads data frames, answering pings and close frames on the way.
type Receiver struct {
	sender  *Sender
	rd      wsutil.Reader
	control wsutil.FrameHandlerFunc
}

// Receive returns the next data message with its payload.
func (r *Receiver) Receive() (ws.OpCode, []byte, error) {
	return r.next(true)
}

// Skip drains the next data message without keeping the payload.
func (r *Receiver) Skip() (ws.OpCode, error) {
	op, _, err := r.next(false)
	return op, err
}

func (r *Receiver) next(keep bool) (ws.OpCode, []byte, error) {
	for {
		hdr, err := r.rd.NextFrame()
		if err != nil {
			return 0, nil, &ReceiveError{Err: err}
		}

		if hdr.OpCode.IsControl() {
			if hdr.OpCode == ws.OpClose {
				r.sender.markClosing()
			}
			if err := r.control(hdr, &r.rd); err != nil {
				var closed wsutil.ClosedError
				if errors.As(err, &closed) {
					return ws.OpClose, nil, ErrPeerClosed
				}
				return 0, nil, &ReceiveError{Err: err}
			}
			continue
		}

		if !keep {
			if _, err := io.Copy(io.Discard, &r.rd); err != nil {
				return 0, nil, &ReceiveError{Err: err}
			}
			return hdr.OpCode, nil, nil
		}
		p, err := io.ReadAll(&r.rd)
		if err != nil {
			return 0, nil, &ReceiveError{Err: err}
		}
		return hdr.OpCode, p, nil
	}
}
