// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package fl implements the three whole-archive operations: packing
// a directory tree into an FL plus a set of stores, unpacking an FL
// back into a directory tree, and cloning an FL's blocks from one
// route set to another.
package fl
