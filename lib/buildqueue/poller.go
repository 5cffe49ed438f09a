// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/github"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/jenkins"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/notify"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
)

const (
	// DefaultShortDelay spaces out polls of a task whose state just
	// changed or is known to be waiting.
	DefaultShortDelay = 5 * time.Second

	// DefaultRetryDelay spaces out polls of a running build and retries
	// after a failed status report.
	DefaultRetryDelay = time.Second
)

// Status descriptions posted to GitHub.
const (
	DescriptionQueued    = "queued"
	DescriptionPending   = "pending"
	DescriptionFailed    = "failed"
	DescriptionSucceeded = "succeeded"
)

// ProfileSource finds the profile a task belongs to.
// *profile.Registry implements it.
type ProfileSource interface {
	LookupFullName(fullName string) (*profile.Profile, bool)
}

// PollerConfig holds the collaborators and timing of a Poller.
type PollerConfig struct {
	// Store, Executor, Reporter and Profiles are required.
	Store    *Store
	Executor Executor
	Reporter StatusReporter
	Profiles ProfileSource

	// ShortDelay defaults to DefaultShortDelay.
	ShortDelay time.Duration

	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Poller drives the tasks of one queue through their lifecycle. Each
// task taken from the store is examined once against Jenkins and then
// either completed or requeued with its updated state.
type Poller struct {
	store      *Store
	executor   Executor
	reporter   StatusReporter
	profiles   ProfileSource
	shortDelay time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewPoller validates cfg and returns a Poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	var errs []error
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if cfg.Executor == nil {
		errs = append(errs, errors.New("executor is required"))
	}
	if cfg.Reporter == nil {
		errs = append(errs, errors.New("reporter is required"))
	}
	if cfg.Profiles == nil {
		errs = append(errs, errors.New("profiles are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("poller: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	shortDelay := cfg.ShortDelay
	if shortDelay <= 0 {
		shortDelay = DefaultShortDelay
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Poller{
		store:      cfg.Store,
		executor:   cfg.Executor,
		reporter:   cfg.Reporter,
		profiles:   cfg.Profiles,
		shortDelay: shortDelay,
		retryDelay: retryDelay,
		logger:     logger.With("queue", cfg.Store.Name()),
	}, nil
}

// Run processes tasks until ctx is cancelled, then returns nil. A
// store failure does not stop the queue. The task in flight is
// released with its row untouched and served again after the retry
// delay, so its current step may run twice.
func (poller *Poller) Run(ctx context.Context) error {
	poller.logger.Info("poller started")
	for {
		task, err := poller.store.Next(ctx)
		if err == nil {
			err = poller.Process(ctx, task)
			if err != nil && ctx.Err() == nil {
				poller.logger.Error("finishing task failed, it stays stored",
					"task", task.ID,
					"project", task.ExecutorProjectName,
					"error", err,
				)
				poller.store.Release()
			}
		} else if ctx.Err() == nil {
			poller.logger.Error("reading next task failed", "error", err)
		}
		if ctx.Err() != nil || (err != nil && poller.pause(ctx) != nil) {
			poller.logger.Info("poller stopped")
			return nil
		}
	}
}

// pause waits out the retry delay after a store failure.
func (poller *Poller) pause(ctx context.Context) error {
	select {
	case <-poller.store.database.clock.After(poller.retryDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process examines task, which must be the store's task in flight, and
// finishes it with exactly one Complete or Requeue. The returned error
// is the store's, or ctx's when ctx ended mid-step, in which case the
// task is left stored untouched.
func (poller *Poller) Process(ctx context.Context, task Task) error {
	logger := poller.logger.With(
		"task", task.ID,
		"repository", task.Repository,
		"project", task.ExecutorProjectName,
		"commit", task.CommitSHA,
		"phase", task.Phase(),
		"attempt", task.Attempt,
	)

	decision := poller.decide(ctx, task, logger)
	if err := ctx.Err(); err != nil {
		// Shutting down: leave the row as it is so the next run picks
		// the task up again.
		return err
	}
	if decision.complete {
		return poller.store.Complete(ctx)
	}
	return poller.store.Requeue(ctx, decision.task, decision.delay)
}

// decision is how a task leaves Process.
type decision struct {
	complete bool
	task     Task
	delay    time.Duration
}

func completeTask() decision {
	return decision{complete: true}
}

func requeueTask(task Task, delay time.Duration) decision {
	return decision{task: task, delay: delay}
}

// decide runs the lifecycle step for task. A panic ends the task.
func (poller *Poller) decide(ctx context.Context, task Task, logger *slog.Logger) (result decision) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("panic while processing task, dropping it", "panic", recovered)
			result = completeTask()
		}
	}()

	target, ok := poller.profiles.LookupFullName(task.Repository)
	if !ok {
		logger.Error("no profile for task repository, dropping task")
		return completeTask()
	}

	switch task.Phase() {
	case PhaseRunning:
		return poller.checkBuild(ctx, target, task, logger)
	default:
		return poller.checkQueueItem(ctx, target, task, logger)
	}
}

// checkQueueItem handles a task whose build has not started.
func (poller *Poller) checkQueueItem(ctx context.Context, target *profile.Profile, task Task, logger *slog.Logger) decision {
	handle := *task.ExecutorQueueHandle
	item, err := poller.executor.QueueItem(ctx, handle)
	if err != nil {
		logger.Error("querying jenkins queue item failed, dropping task",
			"queue_item", handle,
			"reason", queryFailureReason(err),
			"error", err,
		)
		return completeTask()
	}

	switch {
	case item.Executable != nil:
		logger.Info("build started", "build", item.Executable.Number, "url", item.Executable.URL)
		update := Update{ExecutorBuildID: ptr(item.Executable.Number)}
		if item.Executable.URL != "" {
			update.ExecutorBuildURL = ptr(item.Executable.URL)
		}
		return requeueTask(task.Merge(update), poller.shortDelay)

	case item.Waiting():
		if task.ReportedBlockedState {
			return requeueTask(task, poller.shortDelay)
		}
		err := poller.reporter.Report(ctx, target, task, StatusUpdate{
			State:       github.StatePending,
			Description: DescriptionQueued,
		})
		if err != nil {
			logger.Warn("reporting queued status failed", "error", err)
			return requeueTask(task, poller.retryDelay)
		}
		return requeueTask(task.Merge(Update{ReportedBlockedState: true}), poller.shortDelay)

	case item.Cancelled:
		logger.Info("queue item cancelled, dropping task", "queue_item", handle)
		return completeTask()

	default:
		logger.Debug("queue item in unexpected state", "queue_item", handle, "why", item.Why, "buildable", item.Buildable)
		return requeueTask(task, poller.retryDelay)
	}
}

// checkBuild handles a task whose build has started.
func (poller *Poller) checkBuild(ctx context.Context, target *profile.Profile, task Task, logger *slog.Logger) decision {
	buildID := *task.ExecutorBuildID
	build, err := poller.executor.Build(ctx, task.ExecutorProjectName, buildID)
	if err != nil {
		logger.Error("querying jenkins build failed, dropping task",
			"build", buildID,
			"reason", queryFailureReason(err),
			"error", err,
		)
		return completeTask()
	}

	if !build.Finished() {
		if task.ReportedPendingState {
			return requeueTask(task, poller.retryDelay)
		}
		err := poller.reporter.Report(ctx, target, task, StatusUpdate{
			State:       github.StatePending,
			Description: DescriptionPending,
			TargetURL:   task.BuildURL(),
			Announce:    notify.OutcomePending,
		})
		if err != nil {
			logger.Warn("reporting pending status failed", "error", err)
			return requeueTask(task, poller.retryDelay)
		}
		return requeueTask(task.Merge(Update{ReportedPendingState: true}), poller.retryDelay)
	}

	update := StatusUpdate{
		State:       github.StateFailure,
		Description: DescriptionFailed,
		TargetURL:   task.BuildURL(),
		Announce:    notify.OutcomeFailed,
	}
	if build.Succeeded() {
		update.State = github.StateSuccess
		update.Description = DescriptionSucceeded
		update.Announce = notify.OutcomeSucceeded
	}
	if err := poller.reporter.Report(ctx, target, task, update); err != nil {
		logger.Warn("reporting build result failed", "result", build.Result, "error", err)
		return requeueTask(task, poller.retryDelay)
	}
	logger.Info("build finished", "build", buildID, "result", build.Result)
	return completeTask()
}

// queryFailureReason labels a failed Jenkins query for the log. Jenkins
// forgets queue items a few minutes after their build starts, so a
// task that sat in the store across a long outage ends as "gone".
func queryFailureReason(err error) string {
	switch {
	case jenkins.IsNotFound(err):
		return "gone"
	case jenkins.IsForbidden(err):
		return "forbidden"
	default:
		return "unreachable"
	}
}
