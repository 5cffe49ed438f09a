// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// Fake returns a FakeClock reading start. Time moves only on Advance.
func Fake(start time.Time) *FakeClock {
	fake := &FakeClock{now: start}
	fake.registered = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a Clock for tests. It is safe for concurrent use.
type FakeClock struct {
	mu         sync.Mutex
	now        time.Time
	registered *sync.Cond

	// pending is ordered by deadline, then by registration.
	pending []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	fire     chan time.Time
}

func (fake *FakeClock) Now() time.Time {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.now
}

func (fake *FakeClock) After(d time.Duration) <-chan time.Time {
	return fake.NewTimer(d).C
}

// NewTimer registers a timer d after the current fake time. A
// non-positive d fires at once and is never pending.
func (fake *FakeClock) NewTimer(d time.Duration) *Timer {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	timer := &fakeTimer{deadline: fake.now.Add(d), fire: make(chan time.Time, 1)}
	if d <= 0 {
		timer.fire <- fake.now
		return &Timer{C: timer.fire, stop: func() bool { return false }}
	}

	position, _ := slices.BinarySearchFunc(fake.pending, timer.deadline, func(existing *fakeTimer, deadline time.Time) int {
		if existing.deadline.After(deadline) {
			return 1
		}
		return -1
	})
	fake.pending = slices.Insert(fake.pending, position, timer)
	fake.registered.Broadcast()
	return &Timer{C: timer.fire, stop: func() bool { return fake.cancel(timer) }}
}

func (fake *FakeClock) cancel(timer *fakeTimer) bool {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	index := slices.Index(fake.pending, timer)
	if index < 0 {
		return false
	}
	fake.pending = slices.Delete(fake.pending, index, index+1)
	return true
}

// Advance moves time forward by d and fires every timer that is due,
// earliest deadline first.
func (fake *FakeClock) Advance(d time.Duration) {
	fake.mu.Lock()
	fake.now = fake.now.Add(d)
	now := fake.now
	due := 0
	for due < len(fake.pending) && !fake.pending[due].deadline.After(now) {
		due++
	}
	fired := slices.Clone(fake.pending[:due])
	fake.pending = slices.Delete(fake.pending, 0, due)
	fake.mu.Unlock()

	for _, timer := range fired {
		timer.fire <- now
	}
}

// WaitForTimers blocks until at least n timers are pending. Call it
// before Advance so that the code under test has registered the wait
// it is about to be released from.
func (fake *FakeClock) WaitForTimers(n int) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	for len(fake.pending) < n {
		fake.registered.Wait()
	}
}
