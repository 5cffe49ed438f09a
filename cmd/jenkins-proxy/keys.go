// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/config"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/sealed"
)

func runKeygen(args []string, stdout io.Writer) error {
	var output string
	flags := newFlagSet("keygen")
	flags.StringVarP(&output, "output", "o", "", "write the identity to this file (mode 0600) instead of stdout")
	if err := flags.Parse(args); err != nil {
		return err
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	identity := fmt.Sprintf("# public key: %s\n%s\n", keypair.PublicKey, keypair.PrivateKey)

	if output == "" {
		_, err := io.WriteString(stdout, identity)
		return err
	}
	file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	if _, err := io.WriteString(file, identity); err != nil {
		file.Close()
		return fmt.Errorf("keygen: writing %s: %w", output, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	fmt.Fprintf(stdout, "public key: %s\n", keypair.PublicKey)
	return nil
}

func runSeal(args []string, stdout io.Writer) error {
	var input, output string
	var recipients []string
	flags := newFlagSet("seal")
	flags.StringArrayVarP(&recipients, "recipient", "r", nil, "age public key to encrypt to (repeatable)")
	flags.StringVarP(&input, "input", "i", "-", "plaintext credentials YAML, or - for stdin")
	flags.StringVarP(&output, "output", "o", "", "write the sealed file here instead of stdout")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if len(recipients) == 0 {
		return errors.New("seal: at least one --recipient is required")
	}

	var plaintext []byte
	var err error
	if input == "-" {
		plaintext, err = io.ReadAll(os.Stdin)
	} else {
		plaintext, err = os.ReadFile(input)
	}
	if err != nil {
		return fmt.Errorf("seal: reading credentials: %w", err)
	}

	ciphertext, err := sealCredentials(plaintext, recipients)
	if err != nil {
		return err
	}
	if output == "" {
		_, err := stdout.Write(ciphertext)
		return err
	}
	return os.WriteFile(output, ciphertext, 0o600)
}

// sealCredentials checks that plaintext is a credentials document the
// daemon can read and encrypts it to recipients.
func sealCredentials(plaintext []byte, recipients []string) ([]byte, error) {
	var credentials config.Credentials
	decoder := yaml.NewDecoder(bytes.NewReader(plaintext))
	decoder.KnownFields(true)
	if err := decoder.Decode(&credentials); err != nil {
		return nil, fmt.Errorf("seal: credentials are not valid YAML: %w", err)
	}
	if credentials == (config.Credentials{}) {
		return nil, errors.New("seal: credentials document sets no fields")
	}
	for _, recipient := range recipients {
		if err := sealed.ParsePublicKey(recipient); err != nil {
			return nil, fmt.Errorf("seal: %w", err)
		}
	}
	return sealed.Encrypt(plaintext, recipients)
}
