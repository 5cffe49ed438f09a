// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package github is a typed client for the few GitHub REST calls the
// proxy makes: posting commit statuses, resolving a ref to a commit,
// and reading a pull request's head.
//
// Requests wait out an exhausted primary rate limit window, and a
// rate-limited response is retried once after the advertised backoff.
// GET responses are revalidated by ETag so repeated ref lookups cost no
// quota. Failed calls return *APIError, which matches the package
// sentinels (ErrNotFound and friends) under errors.Is.
package github
