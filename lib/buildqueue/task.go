// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildqueue

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Phase is the lifecycle phase a task is in, derived from its fields.
type Phase int

const (
	// PhaseSubmitted: Jenkins has a queue item but no build yet.
	PhaseSubmitted Phase = iota
	// PhaseRunning: Jenkins has assigned a build number.
	PhaseRunning
)

func (phase Phase) String() string {
	switch phase {
	case PhaseSubmitted:
		return "submitted"
	case PhaseRunning:
		return "running"
	default:
		return fmt.Sprintf("phase(%d)", int(phase))
	}
}

// Task is the persisted state of one tracked build.
type Task struct {
	// ID identifies the logical task across requeues. It is assigned
	// by Enqueue when empty.
	ID string `cbor:"id"`

	// Repository is the "owner/name" of the profile the task belongs
	// to.
	Repository string `cbor:"repository"`

	// ExecutorProjectName is the Jenkins project building the commit.
	// It doubles as the GitHub status context.
	ExecutorProjectName string `cbor:"executor_project_name"`

	// CommitSHA keys the GitHub commit status. It never changes.
	CommitSHA string `cbor:"commit_sha"`

	// BranchOverride, when set, was sent to Jenkins as the branch
	// specifier instead of CommitSHA.
	BranchOverride *string `cbor:"branch_override,omitempty"`

	// SourcePayload is the raw webhook body that triggered the build.
	// It is stored compressed in its own column, not in the record.
	SourcePayload []byte `cbor:"-"`

	ExecutorQueueHandle *int64  `cbor:"executor_queue_handle,omitempty"`
	ExecutorBuildID     *int64  `cbor:"executor_build_id,omitempty"`
	ExecutorBuildURL    *string `cbor:"executor_build_url,omitempty"`

	// ReportedBlockedState is set once GitHub has accepted the
	// "queued" pending status for this task.
	ReportedBlockedState bool `cbor:"reported_blocked_state"`

	// ReportedPendingState is set once GitHub has accepted the
	// pending status for the running build.
	ReportedPendingState bool `cbor:"reported_pending_state"`

	// Attempt counts requeues.
	Attempt int `cbor:"attempt"`
}

// Phase derives the lifecycle phase from the task's fields.
func (task Task) Phase() Phase {
	if task.ExecutorBuildID != nil {
		return PhaseRunning
	}
	return PhaseSubmitted
}

// Branch returns the branch override or "".
func (task Task) Branch() string {
	if task.BranchOverride == nil {
		return ""
	}
	return *task.BranchOverride
}

// BuildURL returns the Jenkins build URL or "".
func (task Task) BuildURL() string {
	if task.ExecutorBuildURL == nil {
		return ""
	}
	return *task.ExecutorBuildURL
}

// Validate checks the field dependencies every stored task satisfies.
func (task Task) Validate() error {
	var errs []error
	if task.ExecutorProjectName == "" {
		errs = append(errs, errors.New("executor project name is empty"))
	}
	if task.CommitSHA == "" {
		errs = append(errs, errors.New("commit SHA is empty"))
	}
	if task.Repository == "" {
		errs = append(errs, errors.New("repository is empty"))
	}
	if task.ExecutorQueueHandle == nil {
		errs = append(errs, errors.New("queue handle is missing"))
	}
	if task.ExecutorBuildURL != nil && task.ExecutorBuildID == nil {
		errs = append(errs, errors.New("build URL without build id"))
	}
	if task.ReportedPendingState && task.ExecutorBuildID == nil {
		errs = append(errs, errors.New("pending reported without build id"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	return nil
}

// Update holds the fields a requeue may change. Nil or false fields
// leave the task as it was.
type Update struct {
	ExecutorBuildID      *int64
	ExecutorBuildURL     *string
	ReportedBlockedState bool
	ReportedPendingState bool
}

// Merge returns a copy of task with update applied. The receiver is
// not modified. A task that already has a build id keeps it, so a
// RUNNING task cannot be turned back into a SUBMITTED one, and flags
// that are set stay set.
func (task Task) Merge(update Update) Task {
	merged := task.clone()
	if update.ExecutorBuildID != nil && merged.ExecutorBuildID == nil {
		merged.ExecutorBuildID = ptr(*update.ExecutorBuildID)
		if update.ExecutorBuildURL != nil {
			merged.ExecutorBuildURL = ptr(*update.ExecutorBuildURL)
		}
	}
	merged.ReportedBlockedState = merged.ReportedBlockedState || update.ReportedBlockedState
	merged.ReportedPendingState = merged.ReportedPendingState || update.ReportedPendingState
	return merged
}

func (task Task) clone() Task {
	copied := task
	copied.BranchOverride = clonePtr(task.BranchOverride)
	copied.ExecutorQueueHandle = clonePtr(task.ExecutorQueueHandle)
	copied.ExecutorBuildID = clonePtr(task.ExecutorBuildID)
	copied.ExecutorBuildURL = clonePtr(task.ExecutorBuildURL)
	if task.SourcePayload != nil {
		copied.SourcePayload = append([]byte(nil), task.SourcePayload...)
	}
	return copied
}

func ptr[T any](value T) *T { return &value }

func clonePtr[T any](pointer *T) *T {
	if pointer == nil {
		return nil
	}
	return ptr(*pointer)
}

// IsFullSHA reports whether value is a 40-character hexadecimal git
// object name.
func IsFullSHA(value string) bool {
	if len(value) != 40 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
