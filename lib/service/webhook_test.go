// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/clock"
)

func signed(secret string, newHash func() hash.Hash, body []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyGitHubSignature(t *testing.T) {
	const secret = "webhook-secret-for-testing"
	body := []byte(`{"action":"synchronize","number":7,"pull_request":{"head":{"sha":"0123456789abcdef0123456789abcdef01234567"}}}`)
	sha256Digest := signed(secret, sha256.New, body)

	tests := []struct {
		name    string
		headers map[string]string
		secret  string
		body    []byte
		want    error
		wantMsg string
	}{
		{name: "sha256", headers: map[string]string{SignatureHeader: "sha256=" + sha256Digest}},
		{name: "legacy_sha1", headers: map[string]string{LegacySignatureHeader: "sha1=" + signed(secret, sha1.New, body)}},
		{
			name: "sha256_preferred",
			headers: map[string]string{
				SignatureHeader:       "sha256=" + sha256Digest,
				LegacySignatureHeader: "sha1=" + strings.Repeat("0", 40),
			},
		},
		{name: "unsigned", headers: nil, want: ErrSignatureMissing},
		{name: "wrong_secret", secret: "rotated", headers: map[string]string{SignatureHeader: "sha256=" + sha256Digest}, want: ErrSignatureMismatch},
		{name: "tampered_body", body: []byte(`{"action":"closed"}`), headers: map[string]string{SignatureHeader: "sha256=" + sha256Digest}, want: ErrSignatureMismatch},
		{name: "truncated", headers: map[string]string{SignatureHeader: "sha256=" + sha256Digest[:32]}, want: ErrSignatureMismatch},
		{name: "missing_prefix", headers: map[string]string{SignatureHeader: sha256Digest}, wantMsg: "lacks the sha256= prefix"},
		{name: "not_hex", headers: map[string]string{SignatureHeader: "sha256=zz"}, wantMsg: "invalid byte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			for name, value := range tt.headers {
				header.Set(name, value)
			}
			key, payload := secret, body
			if tt.secret != "" {
				key = tt.secret
			}
			if tt.body != nil {
				payload = tt.body
			}

			err := VerifyGitHubSignature([]byte(key), payload, header)
			switch {
			case tt.want != nil:
				if !errors.Is(err, tt.want) {
					t.Errorf("VerifyGitHubSignature() = %v, want %v", err, tt.want)
				}
			case tt.wantMsg != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
					t.Errorf("VerifyGitHubSignature() = %v, want error containing %q", err, tt.wantMsg)
				}
			case err != nil:
				t.Errorf("VerifyGitHubSignature() = %v, want nil", err)
			}
		})
	}

	if err := VerifyGitHubSignature(nil, body, http.Header{}); err == nil || !strings.Contains(err.Error(), "secret is empty") {
		t.Errorf("VerifyGitHubSignature(no secret) = %v", err)
	}
}

func TestDeliveryKey(t *testing.T) {
	body := []byte(`{"zen":"Keep it logically awesome."}`)

	if got := DeliveryKey("72d3162e-cc78-11e3-81ab-4c9367dc0958", body); got != "id:72d3162e-cc78-11e3-81ab-4c9367dc0958" {
		t.Errorf("DeliveryKey(id) = %q", got)
	}

	first := DeliveryKey("", body)
	if !strings.HasPrefix(first, "blake3:") || len(first) != len("blake3:")+64 {
		t.Fatalf("DeliveryKey(no id) = %q, want blake3: plus 64 hex digits", first)
	}
	if second := DeliveryKey("", body); second != first {
		t.Errorf("fingerprint not stable: %q then %q", first, second)
	}
	if other := DeliveryKey("", []byte(`{"zen":"Design for failure."}`)); other == first {
		t.Error("different bodies produced the same fingerprint")
	}
}

func TestDeliveryTrackerWindow(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tracker := NewDeliveryTracker(time.Hour, fake)

	if tracker.Observe("id:a") {
		t.Fatal("first delivery reported as duplicate")
	}
	if !tracker.Observe("id:a") {
		t.Fatal("redelivery inside the window not reported as duplicate")
	}
	if tracker.Observe("id:b") {
		t.Fatal("unrelated delivery reported as duplicate")
	}

	fake.Advance(time.Hour + time.Second)
	if tracker.Observe("id:a") {
		t.Error("delivery after the window reported as duplicate")
	}
	// id:b expired and was pruned by the call above.
	if got := tracker.Len(); got != 1 {
		t.Errorf("Len() = %d after pruning, want 1", got)
	}
}

func TestDeliveryTrackerForget(t *testing.T) {
	tracker := NewDeliveryTracker(0, clock.Fake(time.Unix(0, 0)))
	key := DeliveryKey("", []byte("payload"))

	tracker.Observe(key)
	tracker.Forget(key)
	if tracker.Observe(key) {
		t.Error("forgotten delivery reported as duplicate")
	}
}
