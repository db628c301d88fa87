package producer

import "time"

// backoff doubles the reconnect delay after every consecutive failure, up to
// max. It is reset by a completed handshake.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	b := &backoff{initial: initial, max: max}
	b.reset()
	return b
}

// next returns the delay for the upcoming attempt and advances the state.
func (b *backoff) next() time.Duration {
	d := b.current
	if b.current < b.max {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}
	return d
}

// peek returns the delay next would return, without advancing.
func (b *backoff) peek() time.Duration {
	return b.current
}

func (b *backoff) reset() {
	b.current = min(b.initial, b.max)
}
