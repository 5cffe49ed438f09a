// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/jenkins"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
)

var errUnavailable = errors.New("connection refused")

type submitCall struct {
	project    string
	parameters map[string]string
}

// fakeExecutor replays scripted Jenkins responses. Each script is
// consumed front to back and its last element repeats.
type fakeExecutor struct {
	mu sync.Mutex

	submitErrs   map[string]error
	nextHandle   int64
	submitted    []submitCall
	queueScript  []queueResponse
	buildScript  []buildResponse
	queueQueries int
	buildQueries int
}

type queueResponse struct {
	item *jenkins.QueueItem
	err  error
}

type buildResponse struct {
	build *jenkins.Build
	err   error
}

func (executor *fakeExecutor) SubmitBuild(ctx context.Context, project string, parameters map[string]string) (int64, error) {
	executor.mu.Lock()
	defer executor.mu.Unlock()
	executor.submitted = append(executor.submitted, submitCall{project: project, parameters: parameters})
	if err := executor.submitErrs[project]; err != nil {
		return 0, err
	}
	executor.nextHandle++
	return executor.nextHandle, nil
}

func (executor *fakeExecutor) QueueItem(ctx context.Context, handle int64) (*jenkins.QueueItem, error) {
	executor.mu.Lock()
	defer executor.mu.Unlock()
	executor.queueQueries++
	if len(executor.queueScript) == 0 {
		return nil, fmt.Errorf("queue item %d: no scripted response", handle)
	}
	response := executor.queueScript[0]
	if len(executor.queueScript) > 1 {
		executor.queueScript = executor.queueScript[1:]
	}
	return response.item, response.err
}

func (executor *fakeExecutor) Build(ctx context.Context, project string, id int64) (*jenkins.Build, error) {
	executor.mu.Lock()
	defer executor.mu.Unlock()
	executor.buildQueries++
	if len(executor.buildScript) == 0 {
		return nil, fmt.Errorf("build %s#%d: no scripted response", project, id)
	}
	response := executor.buildScript[0]
	if len(executor.buildScript) > 1 {
		executor.buildScript = executor.buildScript[1:]
	}
	return response.build, response.err
}

func blockedItem() queueResponse {
	return queueResponse{item: &jenkins.QueueItem{Blocked: true, Why: "Build #41 is already in progress"}}
}

func waitingItem() queueResponse {
	return queueResponse{item: &jenkins.QueueItem{Why: "Waiting for next available executor"}}
}

func startedItem(number int64) queueResponse {
	return queueResponse{item: &jenkins.QueueItem{Executable: &jenkins.Executable{
		Number: number,
		URL:    fmt.Sprintf("https://ci.example.com/job/widgets/%d/", number),
	}}}
}

func buildWithResult(result string) buildResponse {
	return buildResponse{build: &jenkins.Build{Number: 42, Result: result, Building: result == ""}}
}

// fakeReporter records reported updates. The first failures calls
// fail.
type fakeReporter struct {
	mu       sync.Mutex
	failures int
	panics   bool
	updates  []StatusUpdate
	attempts int
}

func (reporter *fakeReporter) Report(ctx context.Context, target *profile.Profile, task Task, update StatusUpdate) error {
	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if reporter.panics {
		panic("reporter exploded")
	}
	reporter.attempts++
	if reporter.failures > 0 {
		reporter.failures--
		return errUnavailable
	}
	reporter.updates = append(reporter.updates, update)
	return nil
}

func (reporter *fakeReporter) descriptions() []string {
	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	var descriptions []string
	for _, update := range reporter.updates {
		descriptions = append(descriptions, update.Description)
	}
	return descriptions
}

func newTestRegistry(t *testing.T) *profile.Registry {
	t.Helper()
	registry, err := profile.NewRegistry([]profile.Profile{{
		Owner:    "acme",
		Name:     "widgets",
		Projects: []string{"widgets-unit", "widgets-e2e"},
	}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}

func mustProfile(t *testing.T, registry *profile.Registry) *profile.Profile {
	t.Helper()
	target, ok := registry.LookupFullName("acme/widgets")
	if !ok {
		t.Fatal("acme/widgets not registered")
	}
	return target
}
