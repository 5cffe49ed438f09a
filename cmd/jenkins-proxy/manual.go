// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/buildqueue"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
)

// maxManualBodySize bounds a manual build request body.
const maxManualBodySize = 64 << 10

// ManualBuildRequest is the JSON body of POST /build/{commit} and
// POST /build/{commit}/{project}. The repository is named either by
// RepoOwner and RepoName or by Repo ("owner/name"). Commit and Project
// fall back to the path values.
type ManualBuildRequest struct {
	RepoOwner string `json:"repoOwner,omitempty"`
	RepoName  string `json:"repoName,omitempty"`
	Repo      string `json:"repo,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Project   string `json:"project,omitempty"`

	// Branch, when set, is sent to Jenkins as the branch specifier.
	// Commit may then be a ref name.
	Branch string `json:"branch,omitempty"`
}

// ManualBuildHandler queues builds requested directly over HTTP.
type ManualBuildHandler struct {
	profiles  *profile.Registry
	submitter buildSubmitter
	logger    *slog.Logger
}

// NewManualBuildHandler creates a handler over profiles and submitter.
func NewManualBuildHandler(profiles *profile.Registry, submitter buildSubmitter, logger *slog.Logger) *ManualBuildHandler {
	if profiles == nil || submitter == nil {
		panic("manual build handler: profiles and submitter are required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ManualBuildHandler{profiles: profiles, submitter: submitter, logger: logger}
}

// Register adds the manual build routes to mux.
func (h *ManualBuildHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /build/{commit}", h.serveBuild)
	mux.HandleFunc("POST /build/{commit}/{project...}", h.serveBuild)
}

func (h *ManualBuildHandler) serveBuild(writer http.ResponseWriter, request *http.Request) {
	var body ManualBuildRequest
	data, err := io.ReadAll(http.MaxBytesReader(writer, request.Body, maxManualBodySize))
	if err != nil {
		respond(writer, http.StatusBadRequest, "cannot read request body")
		return
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			respond(writer, http.StatusBadRequest, "request body must be JSON")
			return
		}
	}
	if body.Commit == "" {
		body.Commit = request.PathValue("commit")
	}
	if project := request.PathValue("project"); project != "" {
		body.Project = project
	}

	target, ok := h.profiles.Lookup(body.RepoOwner, body.RepoName)
	if !ok {
		target, ok = h.profiles.LookupFullName(body.Repo)
	}
	if !ok {
		respond(writer, http.StatusNotFound, "must provide a matching repoOwner and repoName combination")
		return
	}
	if body.Project != "" && !target.HasProject(body.Project) {
		respond(writer, http.StatusNotFound, "project "+body.Project+" is not configured for "+target.FullName())
		return
	}
	if body.Branch == "" && !buildqueue.IsFullSHA(body.Commit) {
		respond(writer, http.StatusBadRequest, "commit should be 40 characters")
		return
	}

	logger := h.logger.With(
		"repository", target.FullName(),
		"commit", body.Commit,
		"project", body.Project,
		"branch", body.Branch,
	)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(request.Context()), submitTimeout)
	defer cancel()

	if body.Project != "" {
		_, err = h.submitter.SubmitBuild(ctx, buildqueue.Submission{
			Profile:        target,
			Project:        body.Project,
			CommitSHA:      body.Commit,
			BranchOverride: body.Branch,
		})
	} else {
		_, err = h.submitter.SubmitToAllProjects(ctx, target, body.Commit, body.Branch, nil)
	}
	if err != nil {
		logger.Error("manual build submission failed", "error", err)
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, buildqueue.ErrInvalidCommit):
			status = http.StatusBadRequest
		case errors.Is(err, buildqueue.ErrPartialSubmission):
			status = http.StatusMultiStatus
		}
		respond(writer, status, err.Error())
		return
	}
	logger.Info("manual build queued")
	respond(writer, http.StatusOK, "queued")
}
