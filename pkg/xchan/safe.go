// Package xchan provides a channel that may be closed and sent to concurrently.
package xchan

import (
	"sync"
	"time"
)

type Opt[T any] func(safe *Safe[T])

func WithTestRetard[T any](pauseDuration time.Duration) Opt[T] {
	return func(safe *Safe[T]) {
		safe.testRetarder = func() {
			time.Sleep(pauseDuration)
		}
	}
}

// WithBuffer lets Send proceed without a waiting receiver for up to size values.
func WithBuffer[T any](size int) Opt[T] {
	return func(safe *Safe[T]) {
		safe.size = size
	}
}

func MakeSafe[T any](opts ...Opt[T]) *Safe[T] {
	s := &Safe[T]{
		closedCh:     make(chan struct{}),
		testRetarder: func() {}, // default without retarder
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ch = make(chan T, s.size)
	return s
}

type Safe[T any] struct {
	mx   sync.RWMutex
	ch   chan T
	size int

	closeMx  sync.Mutex
	closedCh chan struct{}

	testRetarder func()
}

func (s *Safe[T]) Ch() <-chan T {
	return s.ch
}

// Close reports whether this call closed the channel.
func (s *Safe[T]) Close() bool {
	if alreadyClosed := func() bool {
		s.closeMx.Lock()
		defer s.closeMx.Unlock()
		select {
		case <-s.closedCh:
			return true
		default:
			s.testRetarder() // for concurrent close test
			close(s.closedCh)
		}
		return false
	}(); alreadyClosed {
		return false
	}
	s.mx.Lock()
	close(s.ch)
	s.mx.Unlock()
	return true
}

func (s *Safe[T]) Closed() <-chan struct{} {
	return s.closedCh
}

// Send blocks until msg is taken or the channel is closed, false in the latter case.
func (s *Safe[T]) Send(msg T) bool {
	select {
	case <-s.closedCh:
		return false
	default:
	}
	s.mx.RLock()
	defer s.mx.RUnlock()
	select {
	case s.ch <- msg:
		return true
	case <-s.closedCh:
		return false
	}
}
