// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the proxy's SQLite task database on top of
// zombiezen.com/go/sqlite.
//
// Open applies the pending schema migrations, tracking progress in
// PRAGMA user_version. Every connection gets the pragmas the task store
// depends on:
//
//   - journal_mode=WAL, so "jenkins-proxy tasks" reads while the
//     daemon writes.
//   - synchronous=FULL, so a task acknowledged by Enqueue survives
//     power loss.
//   - busy_timeout=5000, so a second writer waits for the lock instead
//     of failing.
//
// [Pool.Write] wraps a function in an IMMEDIATE transaction so a
// read-modify-write of a task row cannot interleave with another
// writer.
package sqlitepool
