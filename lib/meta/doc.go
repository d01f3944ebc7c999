// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package meta implements the FL metadata store: a single SQLite
// file holding the inode, extra, block, route, and tag tables that
// describe a packed filesystem without its data. The file is the
// shippable artifact — everything a mount or unpack needs is either
// in it or reachable through the store URLs in its route table.
//
// A packer creates the store and is its only writer while packing;
// afterwards it is opened read-only and shared freely across
// goroutines, or reopened writable (OpenWritable) for offline tag and
// route table edits.
package meta
