package xwebsocket

import (
	"context"
	"net"

	"github.com/google/uuid"
)

type WSSession interface {
	Consume() error
	Close(err error) // should be idempotent
}

type WSSessionFactoryFunc func(ctx context.Context, conn net.Conn) WSSession

type sessionIDKey struct{}

func withSessionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionID returns the id the server assigned to the session owning ctx.
func SessionID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(uuid.UUID)
	return id, ok
}
