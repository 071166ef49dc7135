package ratelimit

import (
	"context"
	"net"
	"time"
)

// Admitter limits how many sessions one remote host may open per window.
type Admitter struct {
	strategy Strategy
	limit    uint64
	window   time.Duration
	prefix   string
}

func NewAdmitter(strategy Strategy, limit uint64, window time.Duration) *Admitter {
	return &Admitter{
		strategy: strategy,
		limit:    limit,
		window:   window,
		prefix:   "telemetry:conn:",
	}
}

func (a *Admitter) Admit(ctx context.Context, remote net.Addr) (bool, error) {
	host := remote.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	res, err := a.strategy.Run(ctx, &Request{
		Key:      a.prefix + host,
		Limit:    a.limit,
		Duration: a.window,
	})
	if err != nil {
		return false, err
	}
	return res.State == Allow, nil
}
