package clock

import (
	"time"
)

// Clock is the time source used by session timers. Real() is backed by the
// time package; Fake lets tests advance virtual time explicitly.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f in its own goroutine (Real) or inline during Advance (Fake)
	// once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was still pending.
	Stop() bool
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Stop stops t if it is non-nil. Convenience for optional timer fields.
func Stop(t Timer) {
	if t != nil {
		t.Stop()
	}
}
