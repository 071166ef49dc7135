// Package telemetry holds the two-channel sample pushed to stream clients
// and the generator producing it.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	ChannelMin = 1
	ChannelMax = 1024
)

// Sample is one telemetry point. Field order is the wire order.
type Sample struct {
	Timestamp int64 `json:"timestamp"` // ms since epoch, UTC
	Channel1  int   `json:"channel1"`
	Channel2  int   `json:"channel2"`
}

func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

func (s Sample) Validate() error {
	if s.Channel1 < ChannelMin || s.Channel1 > ChannelMax {
		return fmt.Errorf("channel1 %d out of range [%d,%d]", s.Channel1, ChannelMin, ChannelMax)
	}
	if s.Channel2 < ChannelMin || s.Channel2 > ChannelMax {
		return fmt.Errorf("channel2 %d out of range [%d,%d]", s.Channel2, ChannelMin, ChannelMax)
	}
	return nil
}

// Encode returns the text frame payload for the sample.
func (s Sample) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses and validates a text frame payload. Missing fields are errors.
func Decode(p []byte) (Sample, error) {
	var raw struct {
		Timestamp *int64 `json:"timestamp"`
		Channel1  *int   `json:"channel1"`
		Channel2  *int   `json:"channel2"`
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		return Sample{}, fmt.Errorf("failed to decode sample: %w", err)
	}
	if raw.Timestamp == nil || raw.Channel1 == nil || raw.Channel2 == nil {
		return Sample{}, fmt.Errorf("failed to decode sample: missing field in %s", p)
	}
	s := Sample{
		Timestamp: *raw.Timestamp,
		Channel1:  *raw.Channel1,
		Channel2:  *raw.Channel2,
	}
	if err := s.Validate(); err != nil {
		return Sample{}, err
	}
	return s, nil
}
