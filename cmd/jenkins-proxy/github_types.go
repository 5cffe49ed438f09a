// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

// GitHub webhook payload types. Only the fields routing reads are
// modelled; the raw body is kept on the task for announcements.
//
// JSON field names match GitHub's webhook payload documentation.

// ghRepository is the repository a delivery is about.
type ghRepository struct {
	FullName string `json:"full_name"` // "owner/repo"
}

// ghPullRequestPayload is the webhook payload for a "pull_request"
// event.
type ghPullRequestPayload struct {
	Action      string `json:"action"` // opened, synchronize, closed, ...
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository ghRepository `json:"repository"`
}

// ghPushPayload is the webhook payload for a "push" event.
type ghPushPayload struct {
	Ref        string `json:"ref"` // "refs/heads/main"
	After      string `json:"after"`
	HeadCommit *struct {
		ID string `json:"id"` // full SHA
	} `json:"head_commit"` // null when a branch is deleted
	Repository ghRepository `json:"repository"`
}

// ghIssueCommentPayload is the webhook payload for an
// "issue_comment" event. Pull request conversations are issues, so
// Issue.PullRequest is non-nil for comments on a pull request.
type ghIssueCommentPayload struct {
	Action string `json:"action"` // created, edited, deleted
	Issue  struct {
		Number      int       `json:"number"`
		PullRequest *struct{} `json:"pull_request"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
	Repository ghRepository `json:"repository"`
}
