// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/klauspost/compress/snappy"
)

// DefaultBlockSize is the nominal plaintext block size used at pack
// time when the caller does not choose one. The value is recorded in
// the FL's block-size tag; readers must not assume it — the block
// list and each block's actual decrypted length are authoritative.
const DefaultBlockSize = 512 * 1024

// aeadKeySize and nonceSize are the slices of the plaintext hash fed
// to AES-GCM. These are wire constants: changing either invalidates
// every block in every existing store.
const (
	aeadKeySize = 16
	nonceSize   = 12
)

// Block names one encoded block: ID is the BLAKE3 hash of the
// ciphertext (the address in a store), Key is the BLAKE3 hash of the
// plaintext (and the AEAD key material for its ciphertext).
type Block struct {
	ID  Hash
	Key Hash
}

// IntegrityError reports a block whose stored bytes do not decode
// back to the plaintext they claim: AEAD authentication failed or the
// authenticated payload does not decompress.
type IntegrityError struct {
	Cause error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("block integrity check failed: %v", e.Cause)
}

func (e *IntegrityError) Unwrap() error { return e.Cause }

// Encode transforms a plaintext block into its stored form. The key
// is the hash of the plaintext; the data is snappy-compressed, then
// sealed with AES-128-GCM using the first 16 bytes of the key as the
// cipher key and the first 12 as the nonce; the id is the hash of the
// resulting ciphertext (tag included).
//
// Encode is a pure function of plain: the same input always yields
// the same (ciphertext, Block) pair.
func Encode(plain []byte) ([]byte, Block, error) {
	key := Sum(plain)

	compressed := snappy.Encode(nil, plain)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, Block{}, err
	}

	ciphertext := aead.Seal(nil, key[:nonceSize], compressed, nil)

	return ciphertext, Block{ID: Sum(ciphertext), Key: key}, nil
}

// Decode reverses Encode: it authenticates and decrypts the
// ciphertext with the block key, then decompresses. A failed AEAD
// open or a corrupt compressed payload returns *IntegrityError —
// the two are indistinguishable to the caller and both mean the
// stored bytes cannot be trusted.
func Decode(ciphertext []byte, key Hash) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	compressed, err := aead.Open(nil, key[:nonceSize], ciphertext, nil)
	if err != nil {
		return nil, &IntegrityError{Cause: fmt.Errorf("AEAD open: %w", err)}
	}

	plain, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, &IntegrityError{Cause: fmt.Errorf("snappy decode: %w", err)}
	}

	return plain, nil
}

// newAEAD builds the AES-128-GCM instance for a block key. The only
// failure modes are wrong key or nonce sizes, which the fixed-size
// Hash type rules out, but the errors are propagated rather than
// panicking to keep the codec total.
func newAEAD(key Hash) (cipher.AEAD, error) {
	blockCipher, err := aes.NewCipher(key[:aeadKeySize])
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}
