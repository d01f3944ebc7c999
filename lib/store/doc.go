// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package store implements the content-addressed object backends an
// FL routes its blocks across, and the prefix-range router that
// dispatches reads and writes among them.
//
// Every backend exposes the same small capability set: Get and Set by
// block id, plus the prefix ranges it covers. Backends are
// instantiated from URLs:
//
//	dir:///var/cache/blocks          local directory
//	zdb://host:9900/namespace        append-only keyed log (RESP)
//	s3://access:secret@host/bucket   S3-compatible object store
//	https://hub.example.com/blocks   read-only HTTP
//
// A URL may carry a prefix-range override, "00-7f=dir:///tmp/s1",
// restricting the store to ids whose first byte falls in the range.
// The router composes any number of such stores; overlapping ranges
// replicate writes and provide read fallback.
package store
