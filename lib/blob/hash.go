// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest. Both block identities in the FL
// model are this type: the plaintext hash (the block key) and the
// ciphertext hash (the block id).
type Hash [32]byte

// Sum computes the BLAKE3 hash of data.
func Sum(data []byte) Hash {
	return blake3.Sum256(data)
}

// FormatHash returns the lowercase hex encoding of a hash. This is
// the canonical form used for store object names, cache file names,
// and log output.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing block hash: %w", err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("block hash is %d bytes, want %d", len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// ObjectPath returns the object layout shared by all backends: the
// first two hex characters of the id as a directory, the remainder
// as the object name.
func ObjectPath(id Hash) string {
	hexID := FormatHash(id)
	return hexID[:2] + "/" + hexID[2:]
}
