// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/clock"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/cron"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
)

// scheduledBuild is one profile schedule with its next fire time.
type scheduledBuild struct {
	profile  *profile.Profile
	schedule cron.Schedule
	branch   string
	next     time.Time
}

// Scheduler submits branch builds on each profile's cron schedules.
// The branch name is both the Jenkins branch specifier and the commit
// id, which the dispatcher resolves to a SHA for the commit status.
type Scheduler struct {
	builds    []*scheduledBuild
	submitter buildSubmitter
	clock     clock.Clock
	logger    *slog.Logger
}

// NewScheduler parses every schedule in profiles. All parse errors are
// reported together.
func NewScheduler(profiles []*profile.Profile, submitter buildSubmitter, clk clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var builds []*scheduledBuild
	var errs []error
	for _, target := range profiles {
		for index, entry := range target.Schedules {
			schedule, err := cron.Parse(entry.Cron)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s schedule %d: %w", target.FullName(), index, err))
				continue
			}
			builds = append(builds, &scheduledBuild{
				profile:  target,
				schedule: schedule,
				branch:   entry.Branch,
			})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Scheduler{
		builds:    builds,
		submitter: submitter,
		clock:     clk,
		logger:    logger,
	}, nil
}

// Len returns the number of schedules.
func (s *Scheduler) Len() int {
	return len(s.builds)
}

// Run fires schedules until ctx is cancelled. A schedule whose fire
// time passed while a previous submission was running fires once, not
// once per missed slot.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.builds) == 0 {
		<-ctx.Done()
		return nil
	}

	now := s.clock.Now()
	for _, build := range s.builds {
		if err := s.advance(build, now); err != nil {
			return err
		}
		s.logger.Info("schedule armed",
			"repository", build.profile.FullName(),
			"cron", build.schedule.String(),
			"branch", build.branch,
			"next", build.next,
		)
	}

	for {
		earliest := s.builds[0].next
		for _, build := range s.builds[1:] {
			if build.next.Before(earliest) {
				earliest = build.next
			}
		}

		timer := clock.TimerAt(s.clock, earliest)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		now := s.clock.Now()
		for _, build := range s.builds {
			if build.next.After(now) {
				continue
			}
			s.fire(ctx, build)
			if err := s.advance(build, s.clock.Now()); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) advance(build *scheduledBuild, after time.Time) error {
	next, err := build.schedule.Next(after)
	if err != nil {
		return fmt.Errorf("%s schedule for %s: %w", build.profile.FullName(), build.branch, err)
	}
	build.next = next
	return nil
}

func (s *Scheduler) fire(ctx context.Context, build *scheduledBuild) {
	logger := s.logger.With("repository", build.profile.FullName(), "branch", build.branch)
	result, err := s.submitter.SubmitToAllProjects(ctx, build.profile, build.branch, build.branch, nil)
	if err != nil {
		logger.Error("scheduled build submission failed", "error", err)
		return
	}
	logger.Info("scheduled build submitted",
		"submitted", len(result.Submitted),
		"duplicates", len(result.Duplicates),
	)
}
