// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP plumbing the proxy daemon puts in
// front of its handlers:
//
//   - HTTPServer binds a TCP listener, reports readiness and drains
//     in-flight requests when its context is cancelled.
//   - VerifyGitHubSignature checks the HMAC in X-Hub-Signature-256,
//     or in the legacy SHA-1 header when that is all GitHub sent.
//   - DeliveryTracker suppresses webhook redeliveries inside a time
//     window, keyed by delivery id or by a content fingerprint.
//   - AccessLog wraps a handler with one structured log line per
//     request.
//
// The package owns no routing. Callers compose these pieces in their
// own main function.
package service
