// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package mount exposes an FL as a read-only FUSE filesystem. Every
// FUSE inode maps 1:1 onto an FL inode row; file contents stream in
// lazily through the fetch fabric on first read, so mounting is
// instant regardless of archive size.
package mount
