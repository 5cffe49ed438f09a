// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source of the task store, the poller, the GitHub
// rate limiter and the build scheduler.
type Clock interface {
	Now() time.Time

	// After delivers the current time once d has elapsed. A
	// non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer is After with a Stop, for waits that may be abandoned.
	NewTimer(d time.Duration) *Timer
}

// Timer is a single pending event.
type Timer struct {
	// C receives the fire time. It has a buffer of one.
	C <-chan time.Time

	stop func() bool
}

// Stop cancels the timer and reports whether it was still pending. It
// does not drain C.
func (t *Timer) Stop() bool { return t.stop() }

// TimerAt returns a timer that fires at deadline, or at once if
// deadline has passed.
func TimerAt(c Clock, deadline time.Time) *Timer {
	return c.NewTimer(deadline.Sub(c.Now()))
}
