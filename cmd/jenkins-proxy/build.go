// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

func runBuild(args []string, stdout io.Writer) error {
	var server, repo, commit, project, branch string
	var timeout time.Duration
	flags := newFlagSet("build")
	flags.StringVar(&server, "server", "http://localhost:8080", "base URL of the running jenkins-proxy")
	flags.StringVar(&repo, "repo", "", "repository as owner/name (required)")
	flags.StringVar(&commit, "commit", "", "full commit SHA, or a ref name when --branch is set")
	flags.StringVar(&project, "project", "", "build only this Jenkins project instead of all of the repository's")
	flags.StringVar(&branch, "branch", "", "branch specifier sent to Jenkins instead of the commit")
	flags.DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
	if err := flags.Parse(args); err != nil {
		return err
	}

	request := ManualBuildRequest{Repo: repo, Commit: commit, Project: project, Branch: branch}
	if request.Commit == "" {
		request.Commit = branch
	}
	if err := requestBuild(context.Background(), &http.Client{Timeout: timeout}, server, request, stdout); err != nil {
		return fmt.Errorf("build: %w", err)
	}
	return nil
}

// requestBuild posts request to the manual build endpoint of the
// daemon at server and copies the reply to stdout.
func requestBuild(ctx context.Context, client *http.Client, server string, request ManualBuildRequest, stdout io.Writer) error {
	if request.Repo == "" || !strings.Contains(request.Repo, "/") {
		return errors.New("--repo owner/name is required")
	}
	if request.Commit == "" {
		return errors.New("--commit or --branch is required")
	}

	endpoint := strings.TrimRight(server, "/") + "/build/" + url.PathEscape(request.Commit)
	if request.Project != "" {
		endpoint += "/" + request.Project
	}
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := client.Do(httpRequest)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", response.Status, strings.TrimSpace(string(reply)))
	}
	_, err = stdout.Write(reply)
	return err
}
