package reactor

import (
	"sync/atomic"
	"time"
)

var timerSequenceCounter int64

// Timer is one scheduled callback invocation, the Go analogue of
// Asuka::Net::Timer. A zero interval marks a one-shot timer.
type Timer struct {
	callback   TimerCallback
	expiration time.Time
	interval   time.Duration
	sequence   int64
}

// newTimer allocates a Timer with a process-wide monotonically increasing
// sequence number, used to break expiration ties and as part of a Timer's
// identity in the active set.
func newTimer(cb TimerCallback, expiration time.Time, interval time.Duration) *Timer {
	return &Timer{
		callback:   cb,
		expiration: expiration,
		interval:   interval,
		sequence:   atomic.AddInt64(&timerSequenceCounter, 1),
	}
}

// Run invokes the timer's callback.
func (t *Timer) Run() { t.callback() }

// Repeats reports whether the timer reschedules itself on expiry.
func (t *Timer) Repeats() bool { return t.interval > 0 }

// Restart advances expiration by one interval from now (interval timers) or
// to the zero time (one-shot timers, which are then discarded by the
// caller).
func (t *Timer) Restart(now time.Time) {
	if t.Repeats() {
		t.expiration = now.Add(t.interval)
	} else {
		t.expiration = time.Time{}
	}
}

// Expiration returns the time at which the timer is due to fire.
func (t *Timer) Expiration() time.Time { return t.expiration }

// Sequence returns the timer's identity sequence number.
func (t *Timer) Sequence() int64 { return t.sequence }

// TimerId is an opaque handle returned by scheduling calls and accepted by
// CancelTimer; it carries just enough identity to find and verify the
// timer without exposing it, matching Asuka::Net::TimerId.
type TimerId struct {
	timer    *Timer
	sequence int64
}

func newTimerId(t *Timer) TimerId {
	return TimerId{timer: t, sequence: t.sequence}
}
