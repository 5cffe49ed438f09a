// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used for records the
// proxy persists. Encoding uses Core Deterministic Encoding (RFC 8949
// §4.2), so a task that has not changed always serializes to the same
// bytes. Decoding ignores unknown fields, which lets an older binary
// read rows written by a newer one.
package codec
