// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
	"net/url"
)

// CreateStatusRequest is the body of a commit status post.
type CreateStatusRequest struct {
	// State is one of StatePending, StateSuccess, StateFailure or
	// StateError.
	State string `json:"state"`

	// TargetURL is the "Details" link shown next to the status.
	TargetURL string `json:"target_url,omitempty"`

	// Description is truncated to GitHub's 140 character limit.
	Description string `json:"description,omitempty"`

	// Context distinguishes independent statuses on the same commit.
	Context string `json:"context,omitempty"`
}

const maxDescriptionLength = 140

// CreateCommitStatus posts a status on commit sha.
func (client *Client) CreateCommitStatus(ctx context.Context, owner, repo, sha string, request CreateStatusRequest) (*CommitStatus, error) {
	if runes := []rune(request.Description); len(runes) > maxDescriptionLength {
		request.Description = string(runes[:maxDescriptionLength])
	}
	var status CommitStatus
	if err := client.call(ctx, "POST", repoPath(owner, repo)+"/statuses/"+url.PathEscape(sha), request, &status); err != nil {
		return nil, fmt.Errorf("creating status on %s/%s@%s: %w", owner, repo, sha[:min(len(sha), 8)], err)
	}
	return &status, nil
}
