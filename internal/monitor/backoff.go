package monitor

import "time"

const (
	defaultBackoffFloor   = time.Second
	defaultBackoffCeiling = 60 * time.Second
)

// Backoff is a doubling delay bounded by a floor and a ceiling.
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration
	current time.Duration
}

// NewBackoff returns a backoff positioned at floor.
func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = defaultBackoffFloor
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{floor: floor, ceiling: ceiling, current: floor}
}

// Current is the delay the next failure will wait.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Next returns the delay to wait now and doubles the following one, capped at the ceiling.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	if b.current > b.ceiling/2 {
		b.current = b.ceiling
	} else {
		b.current *= 2
	}
	return delay
}

// Reset moves the backoff back to its floor.
func (b *Backoff) Reset() {
	b.current = b.floor
}
