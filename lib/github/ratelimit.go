// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/clock"
)

// quotaWindow is the primary rate limit as of the last response.
type quotaWindow struct {
	remaining int
	reset     time.Time
}

// parseQuotaWindow reads X-RateLimit-Remaining and X-RateLimit-Reset.
// Responses from endpoints without a quota carry neither.
func parseQuotaWindow(header http.Header) (quotaWindow, bool) {
	remaining, err := strconv.Atoi(header.Get("X-RateLimit-Remaining"))
	if err != nil {
		return quotaWindow{}, false
	}
	reset, err := strconv.ParseInt(header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return quotaWindow{}, false
	}
	return quotaWindow{remaining: remaining, reset: time.Unix(reset, 0)}, true
}

// quota holds requests back while the primary window is spent. The
// proxy posts a few statuses per build, so exhausting it means another
// client shares the token.
type quota struct {
	clock clock.Clock

	mu     sync.Mutex
	window *quotaWindow
}

func (limit *quota) observe(header http.Header) {
	window, ok := parseQuotaWindow(header)
	if !ok {
		return
	}
	limit.mu.Lock()
	limit.window = &window
	limit.mu.Unlock()
}

// exhaustedFor is how long a request sent now would be refused.
func (limit *quota) exhaustedFor() time.Duration {
	limit.mu.Lock()
	defer limit.mu.Unlock()
	if limit.window == nil || limit.window.remaining > 0 {
		return 0
	}
	return max(limit.window.reset.Sub(limit.clock.Now()), 0)
}

// wait sleeps out an exhausted window.
func (limit *quota) wait(ctx context.Context) error {
	return sleep(ctx, limit.clock, limit.exhaustedFor())
}

// backoff is the delay a rate-limited response asks for: Retry-After
// on secondary limits, the window reset on primary ones.
func (limit *quota) backoff(header http.Header) time.Duration {
	if seconds, err := strconv.Atoi(header.Get("Retry-After")); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if window, ok := parseQuotaWindow(header); ok {
		return max(window.reset.Sub(limit.clock.Now()), 0)
	}
	return 0
}

func sleep(ctx context.Context, clk clock.Clock, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	select {
	case <-clk.After(duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
