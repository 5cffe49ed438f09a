// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jenkins

import "strings"

// QueueItem is the subset of /queue/item/<n>/api/json the proxy reads.
type QueueItem struct {
	ID        int64  `json:"id"`
	Blocked   bool   `json:"blocked"`
	Buildable bool   `json:"buildable"`
	Stuck     bool   `json:"stuck"`
	Cancelled bool   `json:"cancelled"`
	Why       string `json:"why"`

	// Executable is set once the item has left the queue and a build
	// has started.
	Executable *Executable `json:"executable"`
}

// Executable identifies the build a queue item turned into.
type Executable struct {
	Number int64  `json:"number"`
	URL    string `json:"url"`
}

// Waiting reports whether the item is still held in the queue, either
// explicitly blocked or waiting for an executor or quiet period.
func (item *QueueItem) Waiting() bool {
	return item.Blocked || strings.HasPrefix(item.Why, "Waiting")
}

// Result values reported by Jenkins for a completed build.
const (
	ResultSuccess  = "SUCCESS"
	ResultFailure  = "FAILURE"
	ResultAborted  = "ABORTED"
	ResultUnstable = "UNSTABLE"
	ResultNotBuilt = "NOT_BUILT"
)

// Build is the subset of /job/.../<n>/api/json the proxy reads.
type Build struct {
	Number   int64  `json:"number"`
	URL      string `json:"url"`
	Building bool   `json:"building"`

	// Result is empty while the build is running.
	Result string `json:"result"`
}

// Finished reports whether Jenkins has recorded a result.
func (build *Build) Finished() bool {
	return build.Result != ""
}

// Succeeded reports whether the build finished with SUCCESS.
func (build *Build) Succeeded() bool {
	return build.Result == ResultSuccess
}
