// ABOUTME: Exponential backoff policy for chunk fetch retries
// ABOUTME: Base delay grown by a multiplier, capped, with optional jitter
package fetch

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff configures retry spacing
type Backoff struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Jitter spreads each delay by up to ±Jitter of itself (0 disables)
	Jitter     float64
	MaxRetries int
}

// DefaultBackoff returns 100ms doubling to at most 5s, three retries, no jitter
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   5 * time.Second,
		MaxRetries: 3,
	}
}

// Delay returns the wait before retry number retry (0-based)
func (b Backoff) Delay(retry int) time.Duration {
	d := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(retry))
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func withBackoffDefaults(b Backoff) Backoff {
	d := DefaultBackoff()
	if b == (Backoff{}) {
		return d
	}
	if b.BaseDelay <= 0 {
		b.BaseDelay = d.BaseDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.MaxRetries < 0 {
		b.MaxRetries = 0
	}
	return b
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
