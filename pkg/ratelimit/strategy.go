// Package ratelimit counts events per key in a floating time window.
package ratelimit

import (
	"context"
	"time"
)

type State int

const (
	Deny State = iota
	Allow
)

func (s State) String() string {
	if s == Allow {
		return "allow"
	}
	return "deny"
}

type Request struct {
	Key      string
	Limit    uint64
	Duration time.Duration
}

type Result struct {
	State         State
	TotalRequests uint64
	ExpiresAt     time.Time
}

type Strategy interface {
	Run(ctx context.Context, r *Request) (*Result, error)
}
