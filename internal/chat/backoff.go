package chat

import "time"

// Backoff yields exponentially growing reconnect delays:
// min(Base * 2^attempt, Max) for attempts 0..MaxAttempts-1.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int

	attempt int
}

// Next returns the delay before the next attempt and advances the counter.
// ok is false once MaxAttempts delays have been handed out.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.attempt >= b.MaxAttempts {
		return 0, false
	}
	delay = b.Base
	for i := 0; i < b.attempt && delay < b.Max; i++ {
		delay *= 2
	}
	if delay > b.Max {
		delay = b.Max
	}
	b.attempt++
	return delay, true
}

// Attempt is the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset starts the sequence over. Called after a successful open.
func (b *Backoff) Reset() {
	b.attempt = 0
}
