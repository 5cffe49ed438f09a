// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// maxSealedSize bounds the ciphertext read from disk.
const maxSealedSize = 1 << 20

// Keypair holds an age x25519 keypair.
type Keypair struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format. It
	// must never be logged.
	PrivateKey string

	// PublicKey is the corresponding age1... recipient.
	PublicKey string
}

// GenerateKeypair generates a new age x25519 keypair.
func GenerateKeypair() (Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return Keypair{}, fmt.Errorf("generating age keypair: %w", err)
	}
	return Keypair{
		PrivateKey: identity.String(),
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Encrypt encrypts plaintext to the given age public keys and returns
// armored ciphertext. At least one recipient is required.
func Encrypt(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	armored := armor.NewWriter(&ciphertext)
	writer, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Decrypt decrypts ciphertext with any of the identities. Armored,
// binary and base64-encoded ciphertext are all accepted.
func Decrypt(ciphertext []byte, identities ...age.Identity) ([]byte, error) {
	if len(identities) == 0 {
		return nil, errors.New("at least one identity is required")
	}
	ciphertext = bytes.TrimSpace(ciphertext)

	var source io.Reader
	switch {
	case bytes.HasPrefix(ciphertext, []byte(armor.Header)):
		source = armor.NewReader(bytes.NewReader(ciphertext))
	case bytes.HasPrefix(ciphertext, []byte("age-encryption.org/")):
		source = bytes.NewReader(ciphertext)
	default:
		raw, err := base64.StdEncoding.DecodeString(string(ciphertext))
		if err != nil {
			return nil, fmt.Errorf("ciphertext is neither age nor base64: %w", err)
		}
		return Decrypt(raw, identities...)
	}

	reader, err := age.Decrypt(source, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// ReadIdentities parses an identity file as written by age-keygen:
// one AGE-SECRET-KEY per line, with # comments and blank lines
// ignored.
func ReadIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("parsing identities in %s: %w", path, err)
	}
	return identities, nil
}

// UnsealFile decrypts sealedPath with the identities in identityPath.
func UnsealFile(identityPath, sealedPath string) ([]byte, error) {
	identities, err := ReadIdentities(identityPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(sealedPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	ciphertext, err := io.ReadAll(io.LimitReader(file, maxSealedSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", sealedPath, err)
	}
	if len(ciphertext) > maxSealedSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", sealedPath, maxSealedSize)
	}
	plaintext, err := Decrypt(ciphertext, identities...)
	if err != nil {
		return nil, fmt.Errorf("unsealing %s: %w", sealedPath, err)
	}
	return plaintext, nil
}

// ParsePublicKey reports whether publicKey is a valid age x25519
// recipient.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}
