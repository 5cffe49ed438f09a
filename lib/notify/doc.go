// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify announces build outcomes to Slack through incoming
// webhooks. The message names the Jenkins project, links the build,
// mentions the GitHub user who triggered it and describes the
// triggering event (pull request, branch push, comment or manual).
package notify
