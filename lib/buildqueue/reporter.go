// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/github"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/notify"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
)

// StatusPoster posts commit statuses. *github.Client implements it.
type StatusPoster interface {
	CreateCommitStatus(ctx context.Context, owner, repo, sha string, request github.CreateStatusRequest) (*github.CommitStatus, error)
}

// Notifier announces build outcomes. *notify.Slack implements it.
type Notifier interface {
	Notify(ctx context.Context, endpoint string, notice notify.BuildNotice) error
}

// StatusUpdate is one status to report for a task.
type StatusUpdate struct {
	State       string
	Description string
	TargetURL   string

	// Announce, when set, is the outcome announced to the profile's
	// notification endpoint after GitHub accepts the status.
	Announce notify.Outcome
}

// StatusReporter reports a task's status. *Reporter implements it.
type StatusReporter interface {
	Report(ctx context.Context, target *profile.Profile, task Task, update StatusUpdate) error
}

// ReporterConfig holds the collaborators of a Reporter.
type ReporterConfig struct {
	// Poster is required.
	Poster StatusPoster

	// Notifier may be nil to disable announcements.
	Notifier Notifier

	// NotifyTimeout bounds each announcement. Defaults to 10s.
	NotifyTimeout time.Duration

	Logger *slog.Logger
}

// Reporter posts task statuses to GitHub keyed by commit, with the
// Jenkins project as the status context. It does not retry; a failed
// post is returned to the poller, which requeues the task.
type Reporter struct {
	poster        StatusPoster
	notifier      Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
}

// NewReporter panics if cfg.Poster is nil.
func NewReporter(cfg ReporterConfig) *Reporter {
	if cfg.Poster == nil {
		panic("buildqueue.NewReporter: Poster is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reporter{
		poster:        cfg.Poster,
		notifier:      cfg.Notifier,
		notifyTimeout: timeout,
		logger:        logger,
	}
}

// Report posts update for task. On success, if an announcement is
// requested and the profile has an endpoint, the notifier is invoked
// in the background; its failure is logged and never returned.
func (reporter *Reporter) Report(ctx context.Context, target *profile.Profile, task Task, update StatusUpdate) error {
	if target == nil {
		return errors.New("report: profile is nil")
	}
	_, err := reporter.poster.CreateCommitStatus(ctx, target.Owner, target.Name, task.CommitSHA, github.CreateStatusRequest{
		State:       update.State,
		TargetURL:   update.TargetURL,
		Description: update.Description,
		Context:     task.ExecutorProjectName,
	})
	if err != nil {
		return err
	}
	reporter.logger.Info("status reported",
		"repository", target.FullName(),
		"sha", task.CommitSHA,
		"context", task.ExecutorProjectName,
		"state", update.State,
		"description", update.Description,
	)

	if update.Announce != "" && target.NotifyEndpoint != "" && reporter.notifier != nil {
		notice := notify.BuildNotice{
			Outcome:    update.Announce,
			Repository: target.FullName(),
			Project:    task.ExecutorProjectName,
			BuildURL:   task.BuildURL(),
			Payload:    task.SourcePayload,
			Mention:    target.Mention,
		}
		go reporter.announce(context.WithoutCancel(ctx), target.NotifyEndpoint, notice)
	}
	return nil
}

func (reporter *Reporter) announce(ctx context.Context, endpoint string, notice notify.BuildNotice) {
	ctx, cancel := context.WithTimeout(ctx, reporter.notifyTimeout)
	defer cancel()
	if err := reporter.notifier.Notify(ctx, endpoint, notice); err != nil {
		reporter.logger.Warn("announcement failed",
			"repository", notice.Repository,
			"project", notice.Project,
			"error", err,
		)
	}
}
