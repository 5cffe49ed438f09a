// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/jenkins"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
)

// BranchSpecifierParameter is the Jenkins build parameter naming the
// revision to build.
const BranchSpecifierParameter = "BRANCH_SPECIFIER"

var (
	// ErrInvalidCommit is returned when a commit id without a branch
	// override is not a 40-character hexadecimal SHA.
	ErrInvalidCommit = errors.New("commit must be a 40-character SHA")

	// ErrPartialSubmission is returned by SubmitToAllProjects when some
	// but not all projects failed.
	ErrPartialSubmission = errors.New("build submitted to some projects only")
)

// Executor is the Jenkins API the dispatcher and poller drive.
// *jenkins.Client implements it.
type Executor interface {
	SubmitBuild(ctx context.Context, project string, parameters map[string]string) (int64, error)
	QueueItem(ctx context.Context, handle int64) (*jenkins.QueueItem, error)
	Build(ctx context.Context, project string, id int64) (*jenkins.Build, error)
}

// RefResolver resolves a branch or tag to a full commit SHA.
// *github.Client implements it.
type RefResolver interface {
	ResolveRef(ctx context.Context, owner, repo, ref string) (string, error)
}

// QueueSource returns the store for a queue name. *Database
// implements it.
type QueueSource interface {
	Queue(name string) *Store
}

// DispatcherConfig holds the collaborators of a Dispatcher.
type DispatcherConfig struct {
	// Executor and Queues are required.
	Executor Executor
	Queues   QueueSource

	// Resolver, when set, turns a non-SHA commit id submitted with a
	// branch override into the SHA used as the status key.
	Resolver RefResolver

	Logger *slog.Logger
}

// Dispatcher starts Jenkins builds and records them as tasks.
type Dispatcher struct {
	executor Executor
	queues   QueueSource
	resolver RefResolver
	logger   *slog.Logger
}

// NewDispatcher panics if Executor or Queues is nil.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Executor == nil {
		panic("buildqueue.NewDispatcher: Executor is required")
	}
	if cfg.Queues == nil {
		panic("buildqueue.NewDispatcher: Queues is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		executor: cfg.Executor,
		queues:   cfg.Queues,
		resolver: cfg.Resolver,
		logger:   logger,
	}
}

// Submission is one build request.
type Submission struct {
	Profile *profile.Profile
	Project string

	// CommitSHA keys the commit status. Without a BranchOverride it
	// must be a full SHA and is also what Jenkins builds.
	CommitSHA string

	// BranchOverride, when non-empty, is what Jenkins builds.
	BranchOverride string

	// Payload is the triggering webhook body, or nil.
	Payload []byte
}

// SubmitBuild validates sub, asks Jenkins to build it and enqueues the
// resulting task. When Jenkins reports the build is already queued it
// returns (nil, nil): the earlier request is already being tracked.
func (dispatcher *Dispatcher) SubmitBuild(ctx context.Context, sub Submission) (*Task, error) {
	if sub.Profile == nil {
		return nil, errors.New("submit: profile is nil")
	}
	if sub.Project == "" {
		return nil, errors.New("submit: project is empty")
	}
	if sub.BranchOverride == "" && !IsFullSHA(sub.CommitSHA) {
		return nil, fmt.Errorf("%w (got %q)", ErrInvalidCommit, sub.CommitSHA)
	}
	if sub.CommitSHA == "" {
		sub.CommitSHA = sub.BranchOverride
	}

	logger := dispatcher.logger.With(
		"repository", sub.Profile.FullName(),
		"project", sub.Project,
		"commit", sub.CommitSHA,
	)

	specifier := sub.CommitSHA
	if sub.BranchOverride != "" {
		specifier = sub.BranchOverride
	}
	handle, err := dispatcher.executor.SubmitBuild(ctx, sub.Project, map[string]string{
		BranchSpecifierParameter: specifier,
	})
	if errors.Is(err, jenkins.ErrDuplicateSubmission) {
		logger.Info("jenkins already has this build queued")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("submitting %s: %w", sub.Project, err)
	}

	statusKey := dispatcher.statusKey(ctx, sub, logger)
	task := Task{
		ID:                  uuid.NewString(),
		Repository:          sub.Profile.FullName(),
		ExecutorProjectName: sub.Project,
		CommitSHA:           statusKey,
		SourcePayload:       sub.Payload,
		ExecutorQueueHandle: ptr(handle),
	}
	if sub.BranchOverride != "" {
		task.BranchOverride = ptr(sub.BranchOverride)
	}

	if err := dispatcher.queues.Queue(sub.Profile.Queue).Enqueue(ctx, task); err != nil {
		logger.Error("build queued in jenkins but not tracked", "queue_item", handle, "error", err)
		return nil, fmt.Errorf("tracking %s queue item %d: %w", sub.Project, handle, err)
	}
	logger.Info("build submitted", "task", task.ID, "queue_item", handle, "branch_specifier", specifier)
	return &task, nil
}

// statusKey returns the SHA the commit status is posted on. A non-SHA
// commit id is resolved through the resolver when one is configured
// and otherwise kept as given.
func (dispatcher *Dispatcher) statusKey(ctx context.Context, sub Submission, logger *slog.Logger) string {
	if IsFullSHA(sub.CommitSHA) || dispatcher.resolver == nil {
		return sub.CommitSHA
	}
	resolved, err := dispatcher.resolver.ResolveRef(ctx, sub.Profile.Owner, sub.Profile.Name, sub.CommitSHA)
	if err != nil || !IsFullSHA(resolved) {
		logger.Warn("could not resolve ref for commit status", "ref", sub.CommitSHA, "error", err)
		return sub.CommitSHA
	}
	return resolved
}

// FanOutResult is the outcome of SubmitToAllProjects.
type FanOutResult struct {
	// Submitted holds the tasks created, in project order.
	Submitted []*Task

	// Duplicates lists projects where Jenkins already had the build
	// queued.
	Duplicates []string

	// Failed maps each failing project to its error.
	Failed map[string]error
}

// SubmitToAllProjects submits the commit to every project of target in
// order. Every project is attempted regardless of earlier failures. The
// error is nil when all succeeded, the first failure when all failed,
// and wraps ErrPartialSubmission otherwise.
func (dispatcher *Dispatcher) SubmitToAllProjects(ctx context.Context, target *profile.Profile, commitSHA, branchOverride string, payload []byte) (*FanOutResult, error) {
	if target == nil {
		return nil, errors.New("submit: profile is nil")
	}
	if branchOverride == "" && !IsFullSHA(commitSHA) {
		return nil, fmt.Errorf("%w (got %q)", ErrInvalidCommit, commitSHA)
	}

	result := &FanOutResult{Failed: make(map[string]error)}
	var firstErr error
	var failures []error
	for _, project := range target.Projects {
		task, err := dispatcher.SubmitBuild(ctx, Submission{
			Profile:        target,
			Project:        project,
			CommitSHA:      commitSHA,
			BranchOverride: branchOverride,
			Payload:        payload,
		})
		switch {
		case err != nil:
			result.Failed[project] = err
			failures = append(failures, err)
			if firstErr == nil {
				firstErr = err
			}
		case task == nil:
			result.Duplicates = append(result.Duplicates, project)
		default:
			result.Submitted = append(result.Submitted, task)
		}
	}

	switch {
	case len(failures) == 0:
		return result, nil
	case len(failures) == len(target.Projects):
		return result, firstErr
	default:
		return result, fmt.Errorf("%w: %w", ErrPartialSubmission, errors.Join(failures...))
	}
}
