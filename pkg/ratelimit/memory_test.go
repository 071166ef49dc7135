package ratelimit

import (
	"context"
	"net"
	"testing"
	"time"

	"gotest.tools/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryStrategyWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.UnixMilli(1700000000000)}
	s := NewMemoryStrategy(clock.now)
	req := &Request{Key: "k", Limit: 3, Duration: time.Second}

	for i := 0; i < 3; i++ {
		res, err := s.Run(ctx, req)
		assert.NilError(t, err)
		assert.Equal(t, res.State, Allow)
		assert.Equal(t, res.TotalRequests, uint64(i+1))
		clock.advance(100 * time.Millisecond)
	}

	res, err := s.Run(ctx, req)
	assert.NilError(t, err)
	assert.Equal(t, res.State, Deny)
	assert.Equal(t, res.TotalRequests, uint64(3))

	// first hit leaves the window
	clock.advance(701 * time.Millisecond)
	res, err = s.Run(ctx, req)
	assert.NilError(t, err)
	assert.Equal(t, res.State, Allow)

	other, err := s.Run(ctx, &Request{Key: "other", Limit: 3, Duration: time.Second})
	assert.NilError(t, err)
	assert.Equal(t, other.State, Allow)
	assert.Equal(t, other.TotalRequests, uint64(1))
}

func TestMemoryStrategySweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.UnixMilli(1700000000000)}
	s := NewMemoryStrategy(clock.now).(*memoryStrategy)

	_, err := s.Run(ctx, &Request{Key: "stale", Limit: 10, Duration: time.Second})
	assert.NilError(t, err)
	clock.advance(time.Minute)
	for i := 0; i < 1024; i++ {
		_, err := s.Run(ctx, &Request{Key: "busy", Limit: 1 << 20, Duration: time.Second})
		assert.NilError(t, err)
	}
	_, ok := s.hits["stale"]
	assert.Assert(t, !ok, "stale key survived sweep")
}

func TestAdmitterPerHost(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.UnixMilli(1700000000000)}
	a := NewAdmitter(NewMemoryStrategy(clock.now), 1, time.Second)

	first := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
	sameHost := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5001}
	otherHost := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 2), Port: 5000}

	ok, err := a.Admit(ctx, first)
	assert.NilError(t, err)
	assert.Assert(t, ok)

	ok, err = a.Admit(ctx, sameHost)
	assert.NilError(t, err)
	assert.Assert(t, !ok, "port must not matter")

	ok, err = a.Admit(ctx, otherHost)
	assert.NilError(t, err)
	assert.Assert(t, ok)

	clock.advance(2 * time.Second)
	ok, err = a.Admit(ctx, sameHost)
	assert.NilError(t, err)
	assert.Assert(t, ok)
}
