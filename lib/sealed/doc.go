// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts and decrypts the proxy's credentials file
// with age. It wraps filippo.io/age for the operations the proxy
// needs: generate an x25519 keypair, encrypt to one or more
// recipients, and decrypt with an identity file.
//
// Ciphertext is written ASCII-armored so sealed files can be committed
// alongside the configuration. [Decrypt] also accepts raw binary age
// files and standard base64 of either form.
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair
//   - [Encrypt] -- encrypt to age public key recipients
//   - [Decrypt] and [UnsealFile] -- decrypt with identities
//   - [ReadIdentities] -- parse an age-keygen identity file
package sealed
