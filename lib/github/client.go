// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/clock"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/netutil"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/version"
)

const (
	// DefaultBaseURL is the public API. GitHub Enterprise serves the
	// same API under https://<host>/api/v3.
	DefaultBaseURL = "https://api.github.com"

	apiVersion = "2022-11-28"
	mediaType  = "application/vnd.github+json"
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL. Must use HTTPS.
	BaseURL string

	// Token needs commit status write access and read access to pull
	// requests. Required.
	Token string

	// UserAgent defaults to version.UserAgent().
	UserAgent string

	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Client calls the GitHub REST API on behalf of the proxy. It is safe
// for concurrent use.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
	clock     clock.Clock
	logger    *slog.Logger

	quota *quota
	cache conditionalCache
}

// NewClient validates config and returns a Client.
func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: base URL %q is not HTTPS", baseURL)
	}
	if config.Token == "" {
		return nil, errors.New("github: token is required")
	}

	client := &Client{
		baseURL:   baseURL,
		token:     config.Token,
		userAgent: config.UserAgent,
		http:      config.HTTPClient,
		clock:     config.Clock,
		logger:    config.Logger,
	}
	if client.userAgent == "" {
		client.userAgent = version.UserAgent()
	}
	if client.http == nil {
		client.http = http.DefaultClient
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.logger == nil {
		client.logger = slog.New(slog.DiscardHandler)
	}
	client.quota = &quota{clock: client.clock}
	return client, nil
}

// call sends method to path, encoding in as the JSON body when non-nil
// and decoding the response into out when non-nil. A GET answered 304
// decodes the cached body. A rate-limited GET is retried once after the
// backoff GitHub asks for. Writes are sent at most once and fail with
// ErrRateLimited instead of waiting; their callers own the retry.
func (client *Client) call(ctx context.Context, method, path string, in, out any) error {
	retryable := method == http.MethodGet
	if !retryable {
		if wait := client.quota.exhaustedFor(); wait > 0 {
			return &APIError{
				StatusCode: http.StatusTooManyRequests,
				Message:    fmt.Sprintf("rate limit exhausted for another %s", wait),
			}
		}
	}

	var payload []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("github: encoding %s %s: %w", method, path, err)
		}
		payload = encoded
	}

	retried := false
	for {
		statusCode, header, body, err := client.send(ctx, method, path, payload)
		if err != nil {
			return err
		}

		switch {
		case statusCode == http.StatusNotModified:
			cached, ok := client.cache.replay(path)
			if !ok {
				return &APIError{StatusCode: statusCode, Message: "not modified, but no cached response"}
			}
			body = cached

		case statusCode >= 300:
			apiError := decodeAPIError(statusCode, body)
			backoff := client.quota.backoff(header)
			if !retryable || retried || backoff == 0 || !errors.Is(apiError, ErrRateLimited) {
				return apiError
			}
			client.logger.Info("github rate limit hit, backing off",
				"method", method,
				"path", path,
				"backoff", backoff,
			)
			if err := sleep(ctx, client.clock, backoff); err != nil {
				return err
			}
			retried = true
			continue

		case method == http.MethodGet:
			client.cache.store(path, header.Get("ETag"), body)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("github: decoding %s %s: %w", method, path, err)
		}
		return nil
	}
}

// send performs one round trip and returns the status, headers and
// body.
func (client *Client) send(ctx context.Context, method, path string, payload []byte) (int, http.Header, []byte, error) {
	if err := client.quota.wait(ctx); err != nil {
		return 0, nil, nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	request.Header.Set("Authorization", "Bearer "+client.token)
	request.Header.Set("Accept", mediaType)
	request.Header.Set("X-GitHub-Api-Version", apiVersion)
	request.Header.Set("User-Agent", client.userAgent)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodGet {
		if etag := client.cache.etag(path); etag != "" {
			request.Header.Set("If-None-Match", etag)
		}
	}

	response, err := client.http.Do(request)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()
	client.quota.observe(response.Header)

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("github: reading %s %s: %w", method, path, err)
	}
	return response.StatusCode, response.Header, responseBody, nil
}

func decodeAPIError(statusCode int, body []byte) *APIError {
	var wire struct {
		Message string       `json:"message"`
		Errors  []FieldError `json:"errors"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || wire.Message == "" {
		return &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: statusCode, Message: wire.Message, Fields: wire.Errors}
}
