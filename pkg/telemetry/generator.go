package telemetry

import (
	"math/rand"
	"time"
)

// Generator produces samples for a single stream. It is not safe for
// concurrent use; every session owns its own.
type Generator struct {
	rnd  *rand.Rand
	now  func() time.Time
	last int64
}

type GeneratorOpt func(g *Generator)

// WithSource makes channel values deterministic.
func WithSource(src rand.Source) GeneratorOpt {
	return func(g *Generator) {
		g.rnd = rand.New(src)
	}
}

func WithClock(now func() time.Time) GeneratorOpt {
	return func(g *Generator) {
		g.now = now
	}
}

func NewGenerator(opts ...GeneratorOpt) *Generator {
	g := &Generator{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rnd == nil {
		g.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return g
}

// Next returns a fresh sample. Timestamps never go backwards, even if the
// wall clock does.
func (g *Generator) Next() Sample {
	ch1 := ChannelMin + g.rnd.Intn(ChannelMax-ChannelMin+1)
	ch2 := ChannelMin + g.rnd.Intn(ChannelMax-ChannelMin+1)
	ts := g.now().UnixMilli()
	if ts < g.last {
		ts = g.last
	}
	g.last = ts
	return Sample{
		Timestamp: ts,
		Channel1:  ch1,
		Channel2:  ch2,
	}
}
