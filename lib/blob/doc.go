// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob implements the deterministic block codec at the heart
// of the FL data pipeline. A plaintext block is hashed (the hash
// doubles as the encryption key), compressed with snappy, sealed with
// AES-128-GCM, and hashed again — the second hash is the id under
// which the ciphertext lives in a store.
//
// Because both the key and the nonce are derived from the plaintext
// hash, encoding is a pure function of the input bytes: identical
// plaintext always produces identical ciphertext, which is what makes
// store-side deduplication work. The AEAD tag makes every stored
// block tamper-evident without any extra framing.
package blob
