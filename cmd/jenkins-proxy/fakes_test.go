// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/buildqueue"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/github"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/jenkins"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
)

const (
	testHeadSHA = "0123456789abcdef0123456789abcdef01234567"
	testPullSHA = "89abcdef0123456789abcdef0123456789abcdef"
)

var errJenkinsDown = errors.New("jenkins: connection refused")

// submission records one call on fakeSubmitter. Project is empty for
// fan-out calls.
type submission struct {
	Repository string
	Project    string
	Commit     string
	Branch     string
	Payload    []byte
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []submission
	err   error

	// notify, when non-nil, receives every call.
	notify chan submission
}

func (submitter *fakeSubmitter) record(call submission) error {
	submitter.mu.Lock()
	submitter.calls = append(submitter.calls, call)
	err := submitter.err
	submitter.mu.Unlock()
	if submitter.notify != nil {
		submitter.notify <- call
	}
	return err
}

func (submitter *fakeSubmitter) SubmitBuild(ctx context.Context, sub buildqueue.Submission) (*buildqueue.Task, error) {
	err := submitter.record(submission{
		Repository: sub.Profile.FullName(),
		Project:    sub.Project,
		Commit:     sub.CommitSHA,
		Branch:     sub.BranchOverride,
		Payload:    sub.Payload,
	})
	if err != nil {
		return nil, err
	}
	return &buildqueue.Task{ExecutorProjectName: sub.Project, CommitSHA: sub.CommitSHA}, nil
}

func (submitter *fakeSubmitter) SubmitToAllProjects(ctx context.Context, target *profile.Profile, commitSHA, branchOverride string, payload []byte) (*buildqueue.FanOutResult, error) {
	err := submitter.record(submission{
		Repository: target.FullName(),
		Commit:     commitSHA,
		Branch:     branchOverride,
		Payload:    payload,
	})
	result := &buildqueue.FanOutResult{Failed: map[string]error{}}
	if err != nil {
		for _, project := range target.Projects {
			result.Failed[project] = err
		}
		return result, err
	}
	for _, project := range target.Projects {
		result.Submitted = append(result.Submitted, &buildqueue.Task{ExecutorProjectName: project, CommitSHA: commitSHA})
	}
	return result, nil
}

func (submitter *fakeSubmitter) submissions() []submission {
	submitter.mu.Lock()
	defer submitter.mu.Unlock()
	return append([]submission(nil), submitter.calls...)
}

type fakePulls struct {
	mu      sync.Mutex
	numbers []int
	err     error
}

func (pulls *fakePulls) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	pulls.mu.Lock()
	defer pulls.mu.Unlock()
	pulls.numbers = append(pulls.numbers, number)
	if pulls.err != nil {
		return nil, pulls.err
	}
	return &github.PullRequest{Number: number, Head: github.Branch{Ref: "feature", SHA: testPullSHA}}, nil
}

func newTestRegistry(t *testing.T) *profile.Registry {
	t.Helper()
	registry, err := profile.NewRegistry([]profile.Profile{
		{
			Owner:         "acme",
			Name:          "widgets",
			Projects:      []string{"widgets-unit", "widgets-e2e"},
			RefHooks:      map[string]profile.RefHook{"refs/heads/main": {BuildBranch: "main"}},
			TriggerPhrase: "jenkins test this",
		},
		{
			Owner:    "acme",
			Name:     "gadgets",
			Projects: []string{"folder/gadgets"},
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}

// flakyExecutor is a Jenkins whose submissions fail for the projects
// in failing and succeed with increasing queue item numbers otherwise.
type flakyExecutor struct {
	mu       sync.Mutex
	failing  map[string]bool
	submits  map[string]int
	nextItem int64
}

func (executor *flakyExecutor) SubmitBuild(ctx context.Context, project string, parameters map[string]string) (int64, error) {
	executor.mu.Lock()
	defer executor.mu.Unlock()
	if executor.submits == nil {
		executor.submits = map[string]int{}
	}
	executor.submits[project]++
	if executor.failing[project] {
		return 0, errJenkinsDown
	}
	executor.nextItem++
	return executor.nextItem, nil
}

func (executor *flakyExecutor) QueueItem(ctx context.Context, handle int64) (*jenkins.QueueItem, error) {
	return nil, errors.New("queue items are not served")
}

func (executor *flakyExecutor) Build(ctx context.Context, project string, id int64) (*jenkins.Build, error) {
	return nil, errors.New("builds are not served")
}

func (executor *flakyExecutor) setFailing(projects ...string) {
	executor.mu.Lock()
	defer executor.mu.Unlock()
	executor.failing = map[string]bool{}
	for _, project := range projects {
		executor.failing[project] = true
	}
}

func (executor *flakyExecutor) submitCount(project string) int {
	executor.mu.Lock()
	defer executor.mu.Unlock()
	return executor.submits[project]
}

// newTrackingDispatcher returns a real dispatcher over a fresh task
// database.
func newTrackingDispatcher(t *testing.T, executor buildqueue.Executor) (*buildqueue.Dispatcher, *buildqueue.Database) {
	t.Helper()
	database, err := buildqueue.OpenDatabase(buildqueue.DatabaseConfig{Path: filepath.Join(t.TempDir(), "tasks.db")})
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return buildqueue.NewDispatcher(buildqueue.DispatcherConfig{Executor: executor, Queues: database}), database
}

func storedTasks(t *testing.T, database *buildqueue.Database) []buildqueue.Entry {
	t.Helper()
	entries, err := database.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return entries
}
