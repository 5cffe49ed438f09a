// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil has wait helpers for tests that run the poller, the
// HTTP server or the scheduler in the background. Every wait is bounded
// by a real timeout and fails the test rather than hanging it.
package testutil
