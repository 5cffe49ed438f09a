// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildqueue tracks builds from submission to a reported
// outcome.
//
// A [Dispatcher] asks Jenkins to start a build and records the
// resulting queue item as a [Task] in a durable [Store]. A [Poller]
// takes one task at a time from its store, asks Jenkins where the
// build stands, reports intermediate and final states to GitHub
// through a [Reporter], and then either completes the task or requeues
// an updated copy of it with a delay.
//
// # Lifecycle
//
// A task starts SUBMITTED: it has a Jenkins queue item number but no
// build number. When Jenkins assigns a build the poller copies the
// build number into the task, which is then RUNNING. A RUNNING task
// never goes back to SUBMITTED. The task leaves the store when a
// terminal status has been posted, when Jenkins reports the queue item
// cancelled, or when Jenkins cannot be queried for it at all.
//
// Each of the two flags on a task (queued reported, pending reported)
// is set only after GitHub accepted the corresponding status, and a
// set flag suppresses the post, so each intermediate status is posted
// at most once per task. A terminal status can be posted twice if
// GitHub accepted it but the response was lost; GitHub treats a
// repeated identical status as a no-op.
//
// # Durability
//
// The store persists every task in SQLite before Enqueue returns.
// Requeue deletes the current row and inserts its replacement in one
// transaction, carrying the delay as an eligibility time on the new
// row, so there is no window in which the task exists only in memory.
// A task that was in flight when the process stopped is served again
// after restart.
package buildqueue
