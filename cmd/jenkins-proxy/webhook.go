// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/buildqueue"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/github"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/service"
)

// maxWebhookBodySize bounds a delivery. Push events for large merges
// carry every commit in the payload.
const maxWebhookBodySize = 50 << 20

// submitTimeout bounds the Jenkins round trips for one delivery. The
// submission outlives the HTTP request so a client disconnect cannot
// leave a build queued in Jenkins but untracked.
const submitTimeout = 2 * time.Minute

// buildSubmitter is the part of the dispatcher the HTTP handlers use.
type buildSubmitter interface {
	SubmitBuild(ctx context.Context, sub buildqueue.Submission) (*buildqueue.Task, error)
	SubmitToAllProjects(ctx context.Context, target *profile.Profile, commitSHA, branchOverride string, payload []byte) (*buildqueue.FanOutResult, error)
}

// pullRequestSource looks up pull requests for comment triggers.
type pullRequestSource interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
}

// WebhookHandler receives GitHub webhook deliveries, verifies them,
// and turns the relevant ones into build submissions:
//
//   - pull_request opened or synchronize builds the head commit.
//   - push to a ref with a build_branch hook builds the head commit
//     with the hook's branch as the Jenkins branch specifier.
//   - issue_comment created on a pull request and containing the
//     profile's trigger phrase builds the pull request head.
//
// Everything else is acknowledged with 202 and ignored.
type WebhookHandler struct {
	secret     []byte
	profiles   *profile.Registry
	submitter  buildSubmitter
	pulls      pullRequestSource
	deliveries *service.DeliveryTracker
	logger     *slog.Logger
}

// WebhookConfig configures a WebhookHandler.
type WebhookConfig struct {
	// Secret verifies the delivery signature headers. Empty accepts
	// unsigned deliveries.
	Secret []byte

	Profiles   *profile.Registry
	Submitter  buildSubmitter
	Pulls      pullRequestSource
	Deliveries *service.DeliveryTracker
	Logger     *slog.Logger
}

// NewWebhookHandler creates a handler. Profiles, Submitter and Pulls
// are required.
func NewWebhookHandler(config WebhookConfig) *WebhookHandler {
	if config.Profiles == nil || config.Submitter == nil || config.Pulls == nil {
		panic("webhook handler: Profiles, Submitter and Pulls are required")
	}
	deliveries := config.Deliveries
	if deliveries == nil {
		deliveries = service.NewDeliveryTracker(service.DefaultDeliveryWindow, nil)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WebhookHandler{
		secret:     config.Secret,
		profiles:   config.Profiles,
		submitter:  config.Submitter,
		pulls:      config.Pulls,
		deliveries: deliveries,
		logger:     logger,
	}
}

// routeResult is what a routed delivery answers with.
type routeResult struct {
	status  int
	message string
}

var irrelevant = routeResult{http.StatusAccepted, "irrelevant webhook, ignoring"}

func (h *WebhookHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodPost)
		respond(writer, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(writer, request.Body, maxWebhookBodySize))
	if err != nil {
		h.logger.Warn("webhook: reading body failed", "error", err)
		respond(writer, http.StatusBadRequest, "cannot read request body")
		return
	}

	if len(h.secret) > 0 {
		if err := service.VerifyGitHubSignature(h.secret, body, request.Header); err != nil {
			h.logger.Warn("webhook: signature verification failed",
				"error", err,
				"remote_addr", request.RemoteAddr,
			)
			respond(writer, http.StatusUnauthorized, "signature verification failed")
			return
		}
	}

	eventType := request.Header.Get("X-GitHub-Event")
	if eventType == "" {
		respond(writer, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}
	deliveryID := request.Header.Get("X-GitHub-Delivery")
	logger := h.logger.With("event", eventType, "delivery_id", deliveryID)

	if eventType == "ping" {
		logger.Info("webhook: ping received")
		respond(writer, http.StatusOK, "pong")
		return
	}

	var envelope struct {
		Repository ghRepository `json:"repository"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		logger.Warn("webhook: payload is not JSON", "error", err)
		respond(writer, http.StatusBadRequest, "payload is not valid JSON")
		return
	}
	target, ok := h.profiles.LookupFullName(envelope.Repository.FullName)
	if !ok {
		logger.Info("webhook: no profile for repository", "repository", envelope.Repository.FullName)
		respond(writer, http.StatusNotFound, "no profile defined for this repository")
		return
	}
	logger = logger.With("repository", target.FullName())

	key := service.DeliveryKey(deliveryID, body)
	if h.deliveries.Observe(key) {
		logger.Info("webhook: duplicate delivery, ignoring")
		respond(writer, http.StatusOK, "duplicate delivery, ignoring")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(request.Context()), submitTimeout)
	defer cancel()

	result, err := h.route(ctx, eventType, body, target, logger)
	if errors.Is(err, buildqueue.ErrPartialSubmission) {
		// The projects that were submitted are tracked; a redelivery
		// would queue them a second time.
		logger.Error("webhook: build submitted to some projects only", "error", err)
		respond(writer, http.StatusMultiStatus, err.Error())
		return
	}
	if err != nil {
		// Let a redelivery through once the cause is fixed.
		h.deliveries.Forget(key)
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, buildqueue.ErrInvalidCommit), errors.As(err, new(*json.SyntaxError)):
			status = http.StatusBadRequest
		case errors.Is(err, github.ErrNotFound):
			status = http.StatusNotFound
		}
		logger.Error("webhook: build submission failed", "error", err)
		respond(writer, status, err.Error())
		return
	}
	if result == irrelevant {
		logger.Debug("webhook: ignoring irrelevant delivery")
	}
	respond(writer, result.status, result.message)
}

func (h *WebhookHandler) route(ctx context.Context, eventType string, body []byte, target *profile.Profile, logger *slog.Logger) (routeResult, error) {
	switch eventType {
	case "pull_request":
		var payload ghPullRequestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return routeResult{}, fmt.Errorf("decoding pull_request payload: %w", err)
		}
		if payload.Action != "opened" && payload.Action != "synchronize" {
			return irrelevant, nil
		}
		logger.Info("pull request updated", "number", payload.Number, "head", payload.PullRequest.Head.SHA)
		if err := h.submit(ctx, target, payload.PullRequest.Head.SHA, "", body); err != nil {
			return routeResult{}, err
		}
		return routeResult{http.StatusCreated, "thanks for the PR, i will build it"}, nil

	case "push":
		var payload ghPushPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return routeResult{}, fmt.Errorf("decoding push payload: %w", err)
		}
		hook, ok := target.RefHook(payload.Ref)
		if !ok || hook.BuildBranch == "" || payload.HeadCommit == nil {
			return irrelevant, nil
		}
		logger.Info("push to monitored ref", "ref", payload.Ref, "head", payload.HeadCommit.ID, "branch", hook.BuildBranch)
		if err := h.submit(ctx, target, payload.HeadCommit.ID, hook.BuildBranch, body); err != nil {
			return routeResult{}, err
		}
		return routeResult{http.StatusCreated, "thanks for the push, i will build " + hook.BuildBranch}, nil

	case "issue_comment":
		var payload ghIssueCommentPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return routeResult{}, fmt.Errorf("decoding issue_comment payload: %w", err)
		}
		if payload.Action != "created" || payload.Issue.PullRequest == nil ||
			target.TriggerPhrase == "" || !strings.Contains(payload.Comment.Body, target.TriggerPhrase) {
			return irrelevant, nil
		}
		pull, err := h.pulls.GetPullRequest(ctx, target.Owner, target.Name, payload.Issue.Number)
		if err != nil {
			return routeResult{}, fmt.Errorf("looking up pull request #%d: %w", payload.Issue.Number, err)
		}
		logger.Info("build requested by comment", "number", payload.Issue.Number, "head", pull.Head.SHA)
		if err := h.submit(ctx, target, pull.Head.SHA, "", body); err != nil {
			return routeResult{}, err
		}
		return routeResult{http.StatusCreated, "thanks for the issue comment, i will test it"}, nil
	}
	return irrelevant, nil
}

// submit fans the commit out to every project of target. Projects that
// were submitted stay tracked even when others fail.
func (h *WebhookHandler) submit(ctx context.Context, target *profile.Profile, commitSHA, branchOverride string, payload []byte) error {
	result, err := h.submitter.SubmitToAllProjects(ctx, target, commitSHA, branchOverride, payload)
	if result != nil && len(result.Duplicates) > 0 {
		h.logger.Info("builds already queued in jenkins",
			"repository", target.FullName(),
			"projects", result.Duplicates,
		)
	}
	return err
}

// respond writes a plain-text reply.
func respond(writer http.ResponseWriter, status int, message string) {
	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writer.WriteHeader(status)
	io.WriteString(writer, message+"\n")
}
