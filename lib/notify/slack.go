// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/netutil"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/version"
)

// SlackConfig holds configuration for a Slack notifier.
type SlackConfig struct {
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Slack posts notices to Slack incoming webhooks. The webhook URL is
// supplied per call because each profile has its own channel.
type Slack struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlack returns a Slack notifier.
func NewSlack(cfg SlackConfig) *Slack {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Slack{httpClient: httpClient, logger: logger}
}

// Notify renders notice and posts it to endpoint.
func (slack *Slack) Notify(ctx context.Context, endpoint string, notice BuildNotice) error {
	return slack.Post(ctx, endpoint, notice.Message())
}

// Post sends message to endpoint.
func (slack *Slack) Post(ctx context.Context, endpoint string, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("slack: encoding message: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", version.UserAgent())

	response, err := slack.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("slack: posting message: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: HTTP %d: %s", response.StatusCode, netutil.ErrorBody(response.Body))
	}
	slack.logger.Debug("slack message posted", "title", firstTitle(message))
	return nil
}

func firstTitle(message Message) string {
	if len(message.Attachments) == 0 {
		return ""
	}
	return message.Attachments[0].Title
}
