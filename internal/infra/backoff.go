package infra

import (
	"math/rand/v2"
	"time"
)

// Backoff computes feed reconnect delays: Base * 2^attempt, capped at Max,
// with up to Jitter of the delay added at random.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultBackoff starts at one second and caps at one minute.
var DefaultBackoff = Backoff{Base: time.Second, Max: time.Minute}

// Delay returns the wait before reconnect attempt n (0-based).
// A negative attempt is treated as the first one.
func (b Backoff) Delay(attempt int) time.Duration {
	base, ceiling := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoff.Max
	}
	if ceiling < base {
		ceiling = base
	}
	if attempt < 0 {
		attempt = 0
	}

	d := ceiling
	// 2^30 seconds is already far past any sane cap.
	if attempt <= 30 {
		if next := base * time.Duration(1<<attempt); next > 0 && next < ceiling {
			d = next
		}
	}

	if b.Jitter > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}

// CalculateBackoff returns DefaultBackoff.Delay(retryCount).
func CalculateBackoff(retryCount int) time.Duration {
	return DefaultBackoff.Delay(retryCount)
}
