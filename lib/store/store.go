// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/flkit/flkit/lib/blob"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound reports the logical absence of an id from a
	// backend. The router falls through to the next matching store.
	ErrNotFound = errors.New("block not found")

	// ErrReadOnly reports a Set against a backend that cannot write
	// (HTTP stores). This is a configuration error, not a transient
	// condition.
	ErrReadOnly = errors.New("store is read-only")
)

// TransportError wraps a retryable backend failure: connection
// refused, timeout, 5xx, and the like. The router retries these with
// bounded backoff on writes and falls through to the next replica on
// reads.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("store %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BlockMissingError reports that every store covering an id answered
// NotFound. The block is gone from the route set; there is nothing
// to retry.
type BlockMissingError struct {
	ID blob.Hash
}

func (e *BlockMissingError) Error() string {
	return fmt.Sprintf("block %s missing from all routed stores", blob.FormatHash(e.ID))
}

// FetchFailedError reports that every store covering an id failed
// with a transport error; the block may exist but could not be
// reached.
type FetchFailedError struct {
	ID     blob.Hash
	Errors []error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("fetching block %s failed on all routed stores: %v", blob.FormatHash(e.ID), errors.Join(e.Errors...))
}

func (e *FetchFailedError) Unwrap() []error { return e.Errors }

// StorePutError reports a write whose retries were exhausted. It
// aborts the pack that issued it.
type StorePutError struct {
	ID  blob.Hash
	Err error
}

func (e *StorePutError) Error() string {
	return fmt.Sprintf("storing block %s: %v", blob.FormatHash(e.ID), e.Err)
}

func (e *StorePutError) Unwrap() error { return e.Err }

// ConfigError reports an invalid store URL, range, or a routing
// table that cannot serve a request at all.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

// Route declares one prefix range a store covers: ids whose first
// byte is in [Start, End] (inclusive) belong to the store at URL.
type Route struct {
	Start byte
	End   byte
	URL   string
}

// Matches reports whether the first byte of an id falls inside the
// route's range.
func (r Route) Matches(firstByte byte) bool {
	return firstByte >= r.Start && firstByte <= r.End
}

// Store is the uniform capability surface over every backend
// variant. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the exact ciphertext previously written under id,
	// ErrNotFound if the backend does not hold it, or a
	// *TransportError for retryable failures.
	Get(ctx context.Context, id blob.Hash) ([]byte, error)

	// Set writes ciphertext under id. Writing the same id twice is
	// a no-op from the caller's perspective. Read-only backends
	// return ErrReadOnly.
	Set(ctx context.Context, id blob.Hash, data []byte) error

	// Routes declares the prefix ranges this store natively covers,
	// with the store's own serialized URL. Simple backends declare
	// a single 00-ff range.
	Routes() []Route
}
