// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildqueue

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/clock"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/github"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/jenkins"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/notify"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/testutil"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const (
	testShortDelay = 5 * time.Second
	testRetryDelay = time.Second
)

type pollerHarness struct {
	t        *testing.T
	store    *Store
	clock    *clock.FakeClock
	executor *fakeExecutor
	reporter *fakeReporter
	poller   *Poller
}

func newPollerHarness(t *testing.T) *pollerHarness {
	t.Helper()
	store, fakeClock := openTestStore(t)
	harness := &pollerHarness{
		t:        t,
		store:    store,
		clock:    fakeClock,
		executor: &fakeExecutor{},
		reporter: &fakeReporter{},
	}
	harness.poller = harness.newPoller(store)
	return harness
}

func (harness *pollerHarness) newPoller(store *Store) *Poller {
	harness.t.Helper()
	poller, err := NewPoller(PollerConfig{
		Store:      store,
		Executor:   harness.executor,
		Reporter:   harness.reporter,
		Profiles:   newTestRegistry(harness.t),
		ShortDelay: testShortDelay,
		RetryDelay: testRetryDelay,
	})
	if err != nil {
		harness.t.Fatalf("NewPoller: %v", err)
	}
	return poller
}

func (harness *pollerHarness) enqueue(task Task) {
	harness.t.Helper()
	if err := harness.store.Enqueue(context.Background(), task); err != nil {
		harness.t.Fatalf("Enqueue: %v", err)
	}
}

// step advances the clock to the head task's eligibility time, takes
// it and processes it once.
func (harness *pollerHarness) step() Task {
	harness.t.Helper()
	ctx := context.Background()
	if delay, ok := harness.headDelay(); ok && delay > 0 {
		harness.clock.Advance(delay)
	}
	task, err := harness.store.Next(ctx)
	if err != nil {
		harness.t.Fatalf("Next: %v", err)
	}
	if err := harness.poller.Process(ctx, task); err != nil {
		harness.t.Fatalf("Process: %v", err)
	}
	return task
}

// headDelay returns how long until the first stored task is eligible.
func (harness *pollerHarness) headDelay() (time.Duration, bool) {
	harness.t.Helper()
	entries, err := harness.store.List(context.Background())
	if err != nil {
		harness.t.Fatalf("List: %v", err)
	}
	if len(entries) == 0 {
		return 0, false
	}
	return entries[0].NotBefore.Sub(harness.clock.Now()), true
}

// head returns the only stored task.
func (harness *pollerHarness) head() Task {
	harness.t.Helper()
	entries, err := harness.store.List(context.Background())
	if err != nil {
		harness.t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		harness.t.Fatalf("stored tasks = %d, want 1", len(entries))
	}
	return entries[0].Task
}

func (harness *pollerHarness) requireEmpty() {
	harness.t.Helper()
	length, err := harness.store.Len(context.Background())
	if err != nil {
		harness.t.Fatalf("Len: %v", err)
	}
	if length != 0 {
		harness.t.Fatalf("stored tasks = %d, want 0", length)
	}
}

func (harness *pollerHarness) requireDelay(want time.Duration) {
	harness.t.Helper()
	delay, ok := harness.headDelay()
	if !ok {
		harness.t.Fatal("no task stored")
	}
	if delay != want {
		harness.t.Fatalf("requeue delay = %v, want %v", delay, want)
	}
}

func runningTask(project string) Task {
	task := newTestTask(project, 7)
	task.ExecutorBuildID = ptr(int64(42))
	task.ExecutorBuildURL = ptr("https://ci.example.com/job/widgets/42/")
	return task
}

func TestPollerBlockedThenStartedReportsQueuedOnce(t *testing.T) {
	harness := newPollerHarness(t)
	harness.executor.queueScript = []queueResponse{blockedItem(), waitingItem(), startedItem(42)}
	harness.enqueue(newTestTask("widgets-unit", 7))

	harness.step()
	if !harness.head().ReportedBlockedState {
		t.Fatal("ReportedBlockedState not set after queued report")
	}
	harness.requireDelay(testShortDelay)

	harness.step()
	harness.requireDelay(testShortDelay)

	harness.step()
	task := harness.head()
	if task.Phase() != PhaseRunning {
		t.Fatalf("phase = %v, want running", task.Phase())
	}
	if *task.ExecutorBuildID != 42 || task.BuildURL() != "https://ci.example.com/job/widgets/42/" {
		t.Errorf("build = %d %q", *task.ExecutorBuildID, task.BuildURL())
	}
	harness.requireDelay(testShortDelay)

	if got := harness.reporter.descriptions(); !slices.Equal(got, []string{DescriptionQueued}) {
		t.Errorf("reports = %v, want exactly one queued", got)
	}
	update := harness.reporter.updates[0]
	if update.State != github.StatePending || update.Announce != "" {
		t.Errorf("queued update = %+v", update)
	}
}

func TestPollerRunningBuildToSuccess(t *testing.T) {
	harness := newPollerHarness(t)
	harness.executor.buildScript = []buildResponse{
		buildWithResult(""),
		buildWithResult(""),
		buildWithResult(jenkins.ResultSuccess),
	}
	harness.enqueue(runningTask("widgets-unit"))

	harness.step()
	if !harness.head().ReportedPendingState {
		t.Fatal("ReportedPendingState not set after pending report")
	}
	harness.requireDelay(testRetryDelay)

	harness.step()
	harness.requireDelay(testRetryDelay)

	harness.step()
	harness.requireEmpty()

	want := []string{DescriptionPending, DescriptionSucceeded}
	if got := harness.reporter.descriptions(); !slices.Equal(got, want) {
		t.Fatalf("reports = %v, want %v", got, want)
	}
	pending, success := harness.reporter.updates[0], harness.reporter.updates[1]
	if pending.State != github.StatePending || pending.Announce != notify.OutcomePending {
		t.Errorf("pending update = %+v", pending)
	}
	if success.State != github.StateSuccess || success.Announce != notify.OutcomeSucceeded {
		t.Errorf("success update = %+v", success)
	}
	if success.TargetURL != "https://ci.example.com/job/widgets/42/" {
		t.Errorf("TargetURL = %q", success.TargetURL)
	}
	if harness.executor.queueQueries != 0 {
		t.Errorf("running task queried the Jenkins queue %d times", harness.executor.queueQueries)
	}
}

func TestPollerUnsuccessfulResultsReportFailure(t *testing.T) {
	for _, result := range []string{
		jenkins.ResultFailure,
		jenkins.ResultAborted,
		jenkins.ResultUnstable,
		jenkins.ResultNotBuilt,
	} {
		t.Run(result, func(t *testing.T) {
			harness := newPollerHarness(t)
			harness.executor.buildScript = []buildResponse{buildWithResult(result)}
			harness.enqueue(runningTask("widgets-unit"))

			harness.step()
			harness.requireEmpty()
			if len(harness.reporter.updates) != 1 {
				t.Fatalf("reports = %d, want 1", len(harness.reporter.updates))
			}
			update := harness.reporter.updates[0]
			if update.State != github.StateFailure || update.Description != DescriptionFailed || update.Announce != notify.OutcomeFailed {
				t.Errorf("update = %+v", update)
			}
		})
	}
}

func TestPollerRetriesFailedTerminalReport(t *testing.T) {
	harness := newPollerHarness(t)
	harness.executor.buildScript = []buildResponse{buildWithResult(jenkins.ResultSuccess)}
	harness.reporter.failures = 1
	harness.enqueue(runningTask("widgets-unit"))

	harness.step()
	task := harness.head()
	if task.Phase() != PhaseRunning || task.Attempt != 1 {
		t.Fatalf("after failed report task = %+v, want running attempt 1", task)
	}
	harness.requireDelay(testRetryDelay)

	harness.step()
	harness.requireEmpty()
	if harness.reporter.attempts != 2 {
		t.Errorf("report attempts = %d, want 2", harness.reporter.attempts)
	}
}

func TestPollerRetriesFailedQueuedReport(t *testing.T) {
	harness := newPollerHarness(t)
	harness.executor.queueScript = []queueResponse{blockedItem()}
	harness.reporter.failures = 1
	harness.enqueue(newTestTask("widgets-unit", 7))

	harness.step()
	if harness.head().ReportedBlockedState {
		t.Fatal("ReportedBlockedState set although the report failed")
	}
	harness.requireDelay(testRetryDelay)

	harness.step()
	if !harness.head().ReportedBlockedState {
		t.Fatal("ReportedBlockedState not set after successful retry")
	}
	harness.step()
	if got := harness.reporter.descriptions(); !slices.Equal(got, []string{DescriptionQueued}) {
		t.Errorf("reports = %v, want exactly one queued", got)
	}
}

func TestPollerRetriesFailedPendingReport(t *testing.T) {
	harness := newPollerHarness(t)
	harness.executor.buildScript = []buildResponse{buildWithResult("")}
	harness.reporter.failures = 1
	harness.enqueue(runningTask("widgets-unit"))

	harness.step()
	if harness.head().ReportedPendingState {
		t.Fatal("ReportedPendingState set although the report failed")
	}
	harness.requireDelay(testRetryDelay)

	harness.step()
	harness.step()
	if got := harness.reporter.descriptions(); !slices.Equal(got, []string{DescriptionPending}) {
		t.Errorf("reports = %v, want exactly one pending", got)
	}
}

func TestPollerCompletesWithoutReport(t *testing.T) {
	tests := []struct {
		name  string
		setup func(harness *pollerHarness)
	}{
		{"cancelled", func(harness *pollerHarness) {
			harness.executor.queueScript = []queueResponse{{item: &jenkins.QueueItem{Cancelled: true}}}
			harness.enqueue(newTestTask("widgets-unit", 7))
		}},
		{"queue query error", func(harness *pollerHarness) {
			harness.executor.queueScript = []queueResponse{{err: errUnavailable}}
			harness.enqueue(newTestTask("widgets-unit", 7))
		}},
		{"queue item forgotten", func(harness *pollerHarness) {
			harness.executor.queueScript = []queueResponse{{err: &jenkins.APIError{StatusCode: http.StatusNotFound, Method: "GET", Path: "/queue/item/7/api/json"}}}
			harness.enqueue(newTestTask("widgets-unit", 7))
		}},
		{"build query error", func(harness *pollerHarness) {
			harness.executor.buildScript = []buildResponse{{err: errUnavailable}}
			harness.enqueue(runningTask("widgets-unit"))
		}},
		{"unknown repository", func(harness *pollerHarness) {
			task := newTestTask("widgets-unit", 7)
			task.Repository = "acme/unknown"
			harness.enqueue(task)
		}},
		{"panic", func(harness *pollerHarness) {
			harness.executor.queueScript = []queueResponse{blockedItem()}
			harness.reporter.panics = true
			harness.enqueue(newTestTask("widgets-unit", 7))
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			harness := newPollerHarness(t)
			test.setup(harness)
			harness.step()
			harness.requireEmpty()
			if len(harness.reporter.updates) != 0 {
				t.Errorf("reports = %+v, want none", harness.reporter.updates)
			}
		})
	}
}

func TestPollerUnexpectedQueueStateRetries(t *testing.T) {
	harness := newPollerHarness(t)
	harness.executor.queueScript = []queueResponse{
		{item: &jenkins.QueueItem{Buildable: true, Why: "In the quiet period"}},
		startedItem(9),
	}
	harness.enqueue(newTestTask("widgets-unit", 7))

	harness.step()
	if task := harness.head(); task.Phase() != PhaseSubmitted || task.ReportedBlockedState {
		t.Fatalf("task = %+v, want unchanged submitted task", task)
	}
	harness.requireDelay(testRetryDelay)

	harness.step()
	if harness.head().Phase() != PhaseRunning {
		t.Fatal("task did not advance once the build started")
	}
	if len(harness.reporter.updates) != 0 {
		t.Errorf("reports = %+v, want none", harness.reporter.updates)
	}
}

func TestPollerResumesAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	fakeClock := clock.Fake(storeTestEpoch)
	ctx := context.Background()
	harness := &pollerHarness{
		t:        t,
		clock:    fakeClock,
		executor: &fakeExecutor{queueScript: []queueResponse{blockedItem(), startedItem(42)}},
		reporter: &fakeReporter{},
	}

	database := openTestDatabase(t, path, fakeClock, CompressionZstd)
	harness.store = database.Queue("acme/widgets")
	harness.poller = harness.newPoller(harness.store)
	harness.enqueue(newTestTask("widgets-unit", 7))
	harness.step()
	if err := database.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The restarted process does not wait out the requeue delay.
	reopened := openTestDatabase(t, path, fakeClock, CompressionZstd)
	defer reopened.Close()
	harness.store = reopened.Queue("acme/widgets")
	harness.poller = harness.newPoller(harness.store)
	if delay, ok := harness.headDelay(); !ok || delay > 0 {
		t.Fatalf("after restart head delay = %v (stored %v), want eligible now", delay, ok)
	}

	task, err := harness.store.Next(ctx)
	if err != nil {
		t.Fatalf("Next after restart: %v", err)
	}
	if !task.ReportedBlockedState {
		t.Error("ReportedBlockedState lost across restart")
	}
	if err := harness.poller.Process(ctx, task); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if harness.head().Phase() != PhaseRunning {
		t.Error("task did not advance after restart")
	}
	if got := harness.reporter.descriptions(); !slices.Equal(got, []string{DescriptionQueued}) {
		t.Errorf("reports = %v, want exactly one queued", got)
	}
}

func TestPollerLeavesTaskWhenContextEnds(t *testing.T) {
	harness := newPollerHarness(t)
	harness.executor.queueScript = []queueResponse{{err: context.Canceled}}
	harness.enqueue(newTestTask("widgets-unit", 7))

	ctx, cancel := context.WithCancel(context.Background())
	task, err := harness.store.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	cancel()
	if err := harness.poller.Process(ctx, task); err == nil {
		t.Fatal("Process succeeded with a cancelled context")
	}
	if harness.head().ID != task.ID {
		t.Error("task was removed during shutdown")
	}
}

// reportingFake signals every successful report.
type reportingFake struct {
	fakeReporter
	reported chan StatusUpdate
}

func (reporter *reportingFake) Report(ctx context.Context, target *profile.Profile, task Task, update StatusUpdate) error {
	if err := reporter.fakeReporter.Report(ctx, target, task, update); err != nil {
		return err
	}
	reporter.reported <- update
	return nil
}

func TestPollerRun(t *testing.T) {
	store, _ := openTestStore(t)
	executor := &fakeExecutor{buildScript: []buildResponse{buildWithResult(jenkins.ResultSuccess)}}
	reporter := &reportingFake{reported: make(chan StatusUpdate, 4)}
	poller, err := NewPoller(PollerConfig{
		Store:    store,
		Executor: executor,
		Reporter: reporter,
		Profiles: newTestRegistry(t),
	})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	first := runningTask("widgets-unit")
	first.ID = "first"
	second := runningTask("widgets-e2e")
	second.ID = "second"
	for _, task := range []Task{first, second} {
		if err := store.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	testutil.RequireReceive(t, reporter.reported, 5*time.Second, "first report")
	testutil.RequireReceive(t, reporter.reported, 5*time.Second, "second report")
	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Run did not return"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, entry := range entries {
		if entry.Task.ID == "first" {
			t.Error("first task still stored after its result was reported")
		}
	}
}

func TestNewPollerValidates(t *testing.T) {
	if _, err := NewPoller(PollerConfig{}); err == nil {
		t.Fatal("NewPoller accepted an empty config")
	}
}

func TestQueryFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&jenkins.APIError{StatusCode: http.StatusNotFound}, "gone"},
		{fmt.Errorf("build widgets-unit#42: %w", &jenkins.APIError{StatusCode: http.StatusNotFound}), "gone"},
		{&jenkins.APIError{StatusCode: http.StatusForbidden}, "forbidden"},
		{&jenkins.APIError{StatusCode: http.StatusInternalServerError}, "unreachable"},
		{errUnavailable, "unreachable"},
	}
	for _, tt := range tests {
		if got := queryFailureReason(tt.err); got != tt.want {
			t.Errorf("queryFailureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

// setDeleteFailure makes every DELETE on the tasks table fail until
// it is called again with false.
func setDeleteFailure(t *testing.T, store *Store, fail bool) {
	t.Helper()
	statement := "DROP TRIGGER IF EXISTS refuse_delete"
	if fail {
		statement = "CREATE TRIGGER refuse_delete BEFORE DELETE ON tasks BEGIN SELECT RAISE(ABORT, 'disk unavailable'); END"
	}
	err := store.database.pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, statement, nil)
	})
	if err != nil {
		t.Fatalf("%s: %v", statement, err)
	}
}

func TestPollerRunSurvivesStoreFailure(t *testing.T) {
	store, fakeClock := openTestStore(t)
	executor := &fakeExecutor{buildScript: []buildResponse{buildWithResult(jenkins.ResultSuccess)}}
	reporter := &reportingFake{reported: make(chan StatusUpdate, 4)}
	poller, err := NewPoller(PollerConfig{
		Store:      store,
		Executor:   executor,
		Reporter:   reporter,
		Profiles:   newTestRegistry(t),
		RetryDelay: testRetryDelay,
	})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := store.Enqueue(ctx, runningTask("widgets-unit")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	setDeleteFailure(t, store, true)

	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	// The result is reported but the task cannot be removed. The poller
	// keeps running and the task stays stored.
	testutil.RequireReceive(t, reporter.reported, 5*time.Second, "first success report")
	fakeClock.WaitForTimers(1)
	select {
	case err := <-done:
		t.Fatalf("Run returned %v after a store failure", err)
	default:
	}
	if count, err := store.Len(ctx); err != nil || count != 1 {
		t.Fatalf("Len() = %d, %v, want 1 stored task", count, err)
	}

	setDeleteFailure(t, store, false)
	fakeClock.Advance(testRetryDelay)
	if update := testutil.RequireReceive(t, reporter.reported, 5*time.Second, "success reported again"); update.State != github.StateSuccess {
		t.Errorf("second report = %+v, want success", update)
	}
	testutil.Eventually(t, 5*time.Second, "task removed after recovery", func() bool {
		count, err := store.Len(ctx)
		return err == nil && count == 0
	})

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Run did not return"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
