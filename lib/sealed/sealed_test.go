// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"filippo.io/age/armor"
)

func mustKeypair(t *testing.T) Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	return keypair
}

func mustIdentity(t *testing.T, keypair Keypair) age.Identity {
	t.Helper()
	identity, err := age.ParseX25519Identity(keypair.PrivateKey)
	if err != nil {
		t.Fatalf("ParseX25519Identity: %v", err)
	}
	return identity
}

func TestGenerateKeypair(t *testing.T) {
	first := mustKeypair(t)
	second := mustKeypair(t)

	if !strings.HasPrefix(first.PrivateKey, "AGE-SECRET-KEY-1") {
		t.Errorf("PrivateKey has unexpected prefix")
	}
	if !strings.HasPrefix(first.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", first.PublicKey)
	}
	if first.PrivateKey == second.PrivateKey || first.PublicKey == second.PublicKey {
		t.Error("two generated keypairs are identical")
	}
	if err := ParsePublicKey(first.PublicKey); err != nil {
		t.Errorf("ParsePublicKey: %v", err)
	}
}

func TestEncryptDecryptArmored(t *testing.T) {
	keypair := mustKeypair(t)
	plaintext := []byte("github_token: ghp_example\n")

	ciphertext, err := Encrypt(plaintext, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if !bytes.HasPrefix(ciphertext, []byte(armor.Header)) {
		t.Fatalf("ciphertext is not armored: %.40q", ciphertext)
	}

	decrypted, err := Decrypt(ciphertext, mustIdentity(t, keypair))
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptBase64(t *testing.T) {
	keypair := mustKeypair(t)
	ciphertext, err := Encrypt([]byte("secret"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	encoded := []byte(base64.StdEncoding.EncodeToString(ciphertext))

	decrypted, err := Decrypt(encoded, mustIdentity(t, keypair))
	if err != nil {
		t.Fatalf("Decrypt(base64) error: %v", err)
	}
	if string(decrypted) != "secret" {
		t.Errorf("Decrypt(base64) = %q", decrypted)
	}
}

func TestEncryptMultipleRecipients(t *testing.T) {
	machine := mustKeypair(t)
	escrow := mustKeypair(t)
	ciphertext, err := Encrypt([]byte("shared"), []string{machine.PublicKey, escrow.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	for _, keypair := range []Keypair{machine, escrow} {
		decrypted, err := Decrypt(ciphertext, mustIdentity(t, keypair))
		if err != nil || string(decrypted) != "shared" {
			t.Errorf("Decrypt with %s = %q, %v", keypair.PublicKey, decrypted, err)
		}
	}
}

func TestDecryptErrors(t *testing.T) {
	keypair := mustKeypair(t)
	stranger := mustKeypair(t)
	ciphertext, err := Encrypt([]byte("secret"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if _, err := Decrypt(ciphertext, mustIdentity(t, stranger)); err == nil {
		t.Error("Decrypt with the wrong key succeeded")
	}
	if _, err := Decrypt([]byte("!!! not ciphertext !!!"), mustIdentity(t, keypair)); err == nil {
		t.Error("Decrypt of garbage succeeded")
	}
	if _, err := Decrypt(ciphertext); err == nil {
		t.Error("Decrypt without identities succeeded")
	}
}

func TestEncryptValidatesRecipients(t *testing.T) {
	if _, err := Encrypt([]byte("x"), nil); err == nil {
		t.Error("Encrypt without recipients succeeded")
	}
	if _, err := Encrypt([]byte("x"), []string{"age1notakey"}); err == nil {
		t.Error("Encrypt with an invalid recipient succeeded")
	}
}

func TestUnsealFile(t *testing.T) {
	directory := t.TempDir()
	keypair := mustKeypair(t)

	identityPath := filepath.Join(directory, "identity.txt")
	identityFile := "# created: 2026-03-01T12:00:00Z\n# public key: " + keypair.PublicKey + "\n" + keypair.PrivateKey + "\n"
	if err := os.WriteFile(identityPath, []byte(identityFile), 0o600); err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("webhook_secret: hush\n")
	ciphertext, err := Encrypt(plaintext, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	sealedPath := filepath.Join(directory, "credentials.age")
	if err := os.WriteFile(sealedPath, ciphertext, 0o600); err != nil {
		t.Fatal(err)
	}

	unsealed, err := UnsealFile(identityPath, sealedPath)
	if err != nil {
		t.Fatalf("UnsealFile: %v", err)
	}
	if !bytes.Equal(unsealed, plaintext) {
		t.Errorf("UnsealFile = %q, want %q", unsealed, plaintext)
	}

	if _, err := UnsealFile(filepath.Join(directory, "missing"), sealedPath); err == nil {
		t.Error("UnsealFile with a missing identity file succeeded")
	}
}
