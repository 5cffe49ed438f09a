// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets code that waits on time run under a test's
// control.
//
// Production code takes a Clock and is handed Real(). Tests hand it a
// FakeClock and move time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	// ... start a poller whose next task is due in five seconds ...
//	fake.WaitForTimers(1)
//	fake.Advance(5 * time.Second)
//
// WaitForTimers returns once the code under test has registered its
// wait, so the Advance that follows cannot be lost.
package clock
