package ratelimit

import (
	"context"
	"sync"
	"time"
)

// NewMemoryStrategy keeps the window in process, for a single server instance.
func NewMemoryStrategy(now func() time.Time) Strategy {
	return &memoryStrategy{
		now:  now,
		hits: map[string][]time.Time{},
	}
}

type memoryStrategy struct {
	now func() time.Time

	mx   sync.Mutex
	hits map[string][]time.Time
	runs int
}

func (s *memoryStrategy) Run(_ context.Context, r *Request) (*Result, error) {
	now := s.now()
	minimum := now.Add(-r.Duration)

	s.mx.Lock()
	defer s.mx.Unlock()

	s.runs++
	if s.runs%1024 == 0 {
		s.sweep(minimum)
	}

	hits := trim(s.hits[r.Key], minimum)
	res := &Result{
		ExpiresAt: now.Add(r.Duration),
	}
	if uint64(len(hits)) >= r.Limit {
		s.hits[r.Key] = hits
		res.State = Deny
		res.TotalRequests = uint64(len(hits))
		return res, nil
	}
	hits = append(hits, now)
	s.hits[r.Key] = hits
	res.State = Allow
	res.TotalRequests = uint64(len(hits))
	return res, nil
}

// sweep drops keys whose every hit is out of the window.
// Windows differ per request, so it only uses the current one as a hint.
func (s *memoryStrategy) sweep(minimum time.Time) {
	for k, hits := range s.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(minimum) {
			delete(s.hits, k)
		}
	}
}

func trim(hits []time.Time, minimum time.Time) []time.Time {
	l := -1
	for i, h := range hits {
		if !h.After(minimum) {
			l = i
		} else {
			break
		}
	}
	if l+1 < len(hits) {
		return hits[l+1:]
	}
	return nil
}
