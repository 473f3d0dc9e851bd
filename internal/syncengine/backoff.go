package syncengine

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 30 * time.Second
)

// Backoff produces reconnect delays: base doubling per attempt up to max,
// with equal jitter so the result lies in [d/2, d].
type Backoff struct {
	Base, Max time.Duration
	attempt   int
	jitter    func(n int64) int64
}

func NewBackoff() *Backoff {
	return &Backoff{Base: backoffBase, Max: backoffMax, jitter: rand.Int63n}
}

// Next returns the delay before the next attempt and advances.
func (b *Backoff) Next() time.Duration {
	d := b.Base
	for i := 0; i < b.attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	b.attempt++

	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(b.jitter(int64(half)+1))
}

// Reset is called after a connection succeeds.
func (b *Backoff) Reset() { b.attempt = 0 }
