// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for --version output, the
// /healthz endpoint and outbound User-Agent headers.
//
// Release builds inject the variables at link time:
//
//	go build -ldflags "-X github.com/kfatehi/github-webhook-jenkins-proxy/lib/version.Version=1.2.0"
//
// Commit and build time otherwise come from the VCS stamp the go
// command embeds.
package version
