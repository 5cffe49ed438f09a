// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
	"net/url"
)

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

// GetCommit resolves ref (a branch, tag or SHA prefix) to a commit.
func (client *Client) GetCommit(ctx context.Context, owner, repo, ref string) (*Commit, error) {
	var commit Commit
	if err := client.call(ctx, "GET", repoPath(owner, repo)+"/commits/"+url.PathEscape(ref), nil, &commit); err != nil {
		return nil, fmt.Errorf("resolving %s/%s@%s: %w", owner, repo, ref, err)
	}
	return &commit, nil
}

// ResolveRef returns the full SHA ref points at.
func (client *Client) ResolveRef(ctx context.Context, owner, repo, ref string) (string, error) {
	commit, err := client.GetCommit(ctx, owner, repo, ref)
	if err != nil {
		return "", err
	}
	return commit.SHA, nil
}

// GetPullRequest reads pull request number. The issue_comment trigger
// uses it to find the head commit, which comment payloads omit.
func (client *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var pull PullRequest
	if err := client.call(ctx, "GET", fmt.Sprintf("%s/pulls/%d", repoPath(owner, repo), number), nil, &pull); err != nil {
		return nil, fmt.Errorf("reading %s/%s#%d: %w", owner, repo, number, err)
	}
	return &pull, nil
}
