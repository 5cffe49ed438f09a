// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the proxy's
// binaries: reporting an error from run() before the structured logger
// exists, and deriving the root context that ends on SIGINT or SIGTERM.
package process
