// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile holds the per-repository configuration bundles the
// proxy serves. A [Profile] names a GitHub repository, the Jenkins
// projects that build it, the rules that decide which events trigger a
// build, and where build outcomes are announced. A [Registry] is built
// once at startup and is read-only afterwards, so it is safe to share
// between the webhook handler, the dispatcher and every poller.
package profile
