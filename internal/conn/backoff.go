package conn

import "time"

const (
	DefaultMinDelay = 1 * time.Second
	DefaultMaxDelay = 120 * time.Second
)

// Backoff yields reconnect delays that start at Min, double per consecutive
// failed attempt and stop growing at Max.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	cur time.Duration
}

// NewBackoff returns a Backoff with the given bounds. Zero values fall back to
// the defaults and a max below min is raised to min.
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = DefaultMinDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < min {
		max = min
	}
	return &Backoff{Min: min, Max: max, cur: min}
}

// Next returns the delay for the upcoming attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.cur <= 0 {
		b.cur = b.Min
	}
	d := b.cur
	if b.cur < b.Max {
		b.cur *= 2
		if b.cur > b.Max {
			b.cur = b.Max
		}
	}
	return d
}

// Reset restarts the sequence at Min.
func (b *Backoff) Reset() {
	b.cur = b.Min
}
