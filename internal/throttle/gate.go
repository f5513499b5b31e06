package throttle

import (
	"fmt"
	"sync"
	"time"
)

// Channel identifies a throttling bucket.
type Channel string

// Built-in channels. Motion commands are discrete button presses; speed
// changes arrive as a high-frequency stream from a slider.
const (
	ChannelMotion Channel = "motion"
	ChannelSpeed  Channel = "speed"
)

// bucket is the per-channel state. lastSentAt is zero until the first send.
type bucket struct {
	minInterval time.Duration
	lastSentAt  time.Time
}

// Gate holds one bucket per channel for the process lifetime.
type Gate struct {
	mu      sync.Mutex
	buckets map[Channel]*bucket
}

// NewGate creates a gate with the given channel intervals.
func NewGate(intervals map[Channel]time.Duration) (*Gate, error) {
	g := &Gate{buckets: make(map[Channel]*bucket, len(intervals))}
	for ch, interval := range intervals {
		if interval <= 0 {
			return nil, fmt.Errorf("channel %s: interval must be positive, got %v", ch, interval)
		}
		g.buckets[ch] = &bucket{minInterval: interval}
	}
	return g, nil
}

// NewDefaultGate creates a gate with the motion and speed channels.
func NewDefaultGate(motion, speed time.Duration) (*Gate, error) {
	return NewGate(map[Channel]time.Duration{
		ChannelMotion: motion,
		ChannelSpeed:  speed,
	})
}

// TryAcquire reports whether a send on ch is allowed at now. On success the
// channel's lastSentAt becomes now; on failure nothing changes. Unknown
// channels are always denied.
func (g *Gate) TryAcquire(ch Channel, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[ch]
	if !ok {
		return false
	}

	if !b.lastSentAt.IsZero() && now.Sub(b.lastSentAt) < b.minInterval {
		return false
	}

	b.lastSentAt = now
	return true
}

// Interval returns the minimum interval of ch, or zero if unknown.
func (g *Gate) Interval(ch Channel) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.buckets[ch]; ok {
		return b.minInterval
	}
	return 0
}

// LastSent returns the last accepted send time on ch.
func (g *Gate) LastSent(ch Channel) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[ch]
	if !ok || b.lastSentAt.IsZero() {
		return time.Time{}, false
	}
	return b.lastSentAt, true
}

// Intervals returns a copy of all channel intervals.
func (g *Gate) Intervals() map[Channel]time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[Channel]time.Duration, len(g.buckets))
	for ch, b := range g.buckets {
		out[ch] = b.minInterval
	}
	return out
}
