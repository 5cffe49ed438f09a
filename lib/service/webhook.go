// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/clock"
)

// Signature headers GitHub attaches to deliveries from a hook that has
// a secret. The SHA-1 header is only checked when the SHA-256 one is
// absent, as with GitHub Enterprise releases that predate it.
const (
	SignatureHeader       = "X-Hub-Signature-256"
	LegacySignatureHeader = "X-Hub-Signature"
)

var (
	// ErrSignatureMissing means the delivery carried neither signature
	// header. The hook on GitHub probably has no secret configured.
	ErrSignatureMissing = errors.New("webhook signature: no signature header")

	// ErrSignatureMismatch means the digest did not match the body. The
	// error never includes the expected digest.
	ErrSignatureMismatch = errors.New("webhook signature: mismatch")
)

// VerifyGitHubSignature checks the HMAC GitHub computed over body with
// secret, as carried in header.
func VerifyGitHubSignature(secret, body []byte, header http.Header) error {
	if len(secret) == 0 {
		return errors.New("webhook signature: secret is empty")
	}

	algorithm, newHash, value := "sha256", sha256.New, header.Get(SignatureHeader)
	if value == "" {
		algorithm, newHash, value = "sha1", sha1.New, header.Get(LegacySignatureHeader)
	}
	if value == "" {
		return ErrSignatureMissing
	}

	digest, ok := strings.CutPrefix(value, algorithm+"=")
	if !ok {
		return fmt.Errorf("webhook signature: %s value lacks the %s= prefix", algorithm, algorithm)
	}
	received, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("webhook signature: %w", err)
	}

	mac := hmac.New(newHash, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), received) {
		return ErrSignatureMismatch
	}
	return nil
}

// DefaultDeliveryWindow is how long a delivery is remembered.
const DefaultDeliveryWindow = time.Hour

// DeliveryTracker remembers recently accepted webhook deliveries so a
// redelivery of the same event does not queue a second build. A
// delivery is keyed by its X-GitHub-Delivery id when present and by
// a BLAKE3 fingerprint of the body otherwise.
type DeliveryTracker struct {
	window time.Duration
	clock  clock.Clock

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDeliveryTracker creates a tracker. A zero window selects
// DefaultDeliveryWindow; a nil clock selects clock.Real().
func NewDeliveryTracker(window time.Duration, clk clock.Clock) *DeliveryTracker {
	if window <= 0 {
		window = DefaultDeliveryWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &DeliveryTracker{
		window: window,
		clock:  clk,
		seen:   make(map[string]time.Time),
	}
}

// DeliveryKey returns the key a delivery is tracked under.
func DeliveryKey(deliveryID string, body []byte) string {
	if deliveryID != "" {
		return "id:" + deliveryID
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// Observe records the delivery and reports whether it was already
// recorded inside the window. Expired entries are pruned on every
// call.
func (tracker *DeliveryTracker) Observe(key string) (duplicate bool) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	now := tracker.clock.Now()
	for seenKey, receivedAt := range tracker.seen {
		if now.Sub(receivedAt) > tracker.window {
			delete(tracker.seen, seenKey)
		}
	}

	if _, exists := tracker.seen[key]; exists {
		return true
	}
	tracker.seen[key] = now
	return false
}

// Forget drops key so a later redelivery is processed. Handlers call
// it when they fail after Observe, since GitHub redelivers failed
// webhooks on request.
func (tracker *DeliveryTracker) Forget(key string) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	delete(tracker.seen, key)
}

// Len returns the number of remembered deliveries.
func (tracker *DeliveryTracker) Len() int {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	return len(tracker.seen)
}
