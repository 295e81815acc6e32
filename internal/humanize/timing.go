package humanize

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrEmptyBox is returned when asked to click a zero-area element.
var ErrEmptyBox = errors.New("element has no clickable area")

// RandomDuration returns a duration in [minMs, maxMs] milliseconds.
func RandomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	return time.Duration(minMs+rand.Intn(maxMs-minMs+1)) * time.Millisecond
}

// Jitter returns base varied by up to ±frac of itself. frac is clamped to [0,1].
func Jitter(base time.Duration, frac float64) time.Duration {
	frac = min(max(frac, 0), 1)
	d := time.Duration(float64(base) * (1 + (rand.Float64()*2-1)*frac))
	return max(d, 0)
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
