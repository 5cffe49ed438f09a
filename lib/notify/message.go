// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is the build state being announced.
type Outcome string

const (
	OutcomePending   Outcome = "Pending"
	OutcomeSucceeded Outcome = "Succeeded"
	OutcomeFailed    Outcome = "Failed"
)

func (outcome Outcome) color() string {
	switch outcome {
	case OutcomeSucceeded:
		return "#36a64f"
	case OutcomeFailed:
		return "#ff0000"
	default:
		return ""
	}
}

const (
	footer     = "jenkins"
	footerIcon = "https://www.jenkins.io/images/logos/cowboy/cowboy.png"
)

// BuildNotice describes one announcement.
type BuildNotice struct {
	Outcome Outcome

	// Repository is "owner/name".
	Repository string
	Project    string
	BuildURL   string

	// Payload is the webhook body that triggered the build, or nil for
	// a manual build.
	Payload []byte

	// Mention maps a GitHub login to Slack text. Nil leaves logins
	// unchanged.
	Mention func(login string) string
}

// Message is a Slack incoming-webhook body.
type Message struct {
	Attachments []Attachment `json:"attachments"`
}

// Attachment is a Slack legacy message attachment.
type Attachment struct {
	MrkdwnIn   []string `json:"mrkdwn_in,omitempty"`
	Color      string   `json:"color,omitempty"`
	AuthorName string   `json:"author_name,omitempty"`
	AuthorIcon string   `json:"author_icon,omitempty"`
	Title      string   `json:"title"`
	TitleLink  string   `json:"title_link,omitempty"`
	Text       string   `json:"text"`
	Footer     string   `json:"footer,omitempty"`
	FooterIcon string   `json:"footer_icon,omitempty"`
}

// eventSummary is the part of a GitHub webhook body the message uses.
type eventSummary struct {
	Sender *struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	} `json:"sender"`
	PullRequest *struct {
		HTMLURL string `json:"html_url"`
		Number  int    `json:"number"`
		Title   string `json:"title"`
	} `json:"pull_request"`
	Ref        string `json:"ref"`
	HeadCommit *struct {
		URL     string `json:"url"`
		Message string `json:"message"`
	} `json:"head_commit"`
	Issue *struct {
		HTMLURL string `json:"html_url"`
		Number  int    `json:"number"`
		Title   string `json:"title"`
	} `json:"issue"`
}

// Message renders the notice as a Slack message.
func (notice BuildNotice) Message() Message {
	var event eventSummary
	if len(notice.Payload) > 0 {
		// An undecodable payload is announced like a manual build.
		if json.Unmarshal(notice.Payload, &event) != nil {
			event = eventSummary{}
		}
	}

	var login, avatar string
	if event.Sender != nil {
		login, avatar = event.Sender.Login, event.Sender.AvatarURL
	}
	mention := login
	if notice.Mention != nil && login != "" {
		mention = notice.Mention(login)
	}

	var content string
	switch {
	case len(notice.Payload) == 0:
		content = "job invoked manually."
	case event.PullRequest != nil:
		content = fmt.Sprintf("job invoked by commit to <%s|PR #%d: %s>",
			event.PullRequest.HTMLURL, event.PullRequest.Number, event.PullRequest.Title)
	case event.Ref != "" && event.HeadCommit != nil:
		branch := event.Ref[strings.LastIndex(event.Ref, "/")+1:]
		branchURL := fmt.Sprintf("https://github.com/%s/tree/%s", notice.Repository, branch)
		content = fmt.Sprintf("job invoked by <%s|commit> in monitored branch <%s|%s>: %s",
			event.HeadCommit.URL, branchURL, branch, event.HeadCommit.Message)
	case event.Issue != nil:
		content = fmt.Sprintf("job invoked by force on <%s|PR #%d: %s>",
			event.Issue.HTMLURL, event.Issue.Number, event.Issue.Title)
	default:
		content = "job invoked by an unrecognised event."
	}

	text := strings.TrimSpace(fmt.Sprintf("%s %s %s for %s", mention, notice.Project, notice.Outcome, content))
	return Message{Attachments: []Attachment{{
		MrkdwnIn:   []string{"text"},
		Color:      notice.Outcome.color(),
		AuthorName: login,
		AuthorIcon: avatar,
		Title:      fmt.Sprintf("[Jenkins] %s %s", notice.Project, notice.Outcome),
		TitleLink:  notice.BuildURL,
		Text:       text,
		Footer:     footer,
		FooterIcon: footerIcon,
	}}}
}
