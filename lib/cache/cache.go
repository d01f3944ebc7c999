// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the local chunk cache, the bounded
// download pool, and the fetcher that composes them with a router
// into the read fabric used by the FUSE mount and the unpacker.
//
// Cache entries are decrypted plaintext blocks keyed by block id.
// Because entries are content-addressed and immutable, the cache
// tolerates concurrent sharing across processes and external
// eviction at any moment: atomic rename is the only synchronization
// on disk, and a missing entry simply re-fetches.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/flkit/flkit/lib/blob"
)

// FetchFunc produces the plaintext for a block on a cache miss.
type FetchFunc func(ctx context.Context, block blob.Block) ([]byte, error)

// Cache is a directory of decrypted blocks. Concurrent fetches of
// the same id collapse into one in-flight download; failures are
// never cached.
type Cache struct {
	root   string
	flight singleflight.Group
	logger *slog.Logger
}

// New opens (creating if necessary) a cache rooted at the given
// directory.
func New(root string, logger *slog.Logger) (*Cache, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", root, err)
	}
	return &Cache{root: root, logger: logger}, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

// entryPath shards entries two levels deep by id hex; the file name
// is the full lowercase hex id.
func (c *Cache) entryPath(id blob.Hash) string {
	hexID := blob.FormatHash(id)
	return filepath.Join(c.root, hexID[:2], hexID[2:4], hexID)
}

// Lookup returns the cached plaintext for an id, or false on miss.
func (c *Cache) Lookup(id blob.Hash) ([]byte, bool) {
	data, err := os.ReadFile(c.entryPath(id))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Admit writes a plaintext block into the cache. The write goes
// through a uniquely named temp file in the entry's directory and a
// rename, so a concurrent reader never observes a partial entry.
// Admitting an id that is already present is harmless.
func (c *Cache) Admit(id blob.Hash, plain []byte) error {
	finalPath := c.entryPath(id)
	entryDir := filepath.Dir(finalPath)
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		return fmt.Errorf("creating cache shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(entryDir, ".admit-*.tmp")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(plain); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing cache temp file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming cache entry: %w", err)
	}
	return nil
}

// Get returns the plaintext for a block, fetching and admitting it
// on a miss. Concurrent callers for the same id share a single
// fetch; only the winning call runs fetch, the rest receive its
// result. A fetch failure is returned to every waiter and leaves no
// trace in the cache.
func (c *Cache) Get(ctx context.Context, block blob.Block, fetch FetchFunc) ([]byte, error) {
	key := blob.FormatHash(block.ID)

	data, err, _ := c.flight.Do(key, func() (any, error) {
		if plain, ok := c.Lookup(block.ID); ok {
			return plain, nil
		}

		plain, err := fetch(ctx, block)
		if err != nil {
			return nil, err
		}

		if err := c.Admit(block.ID, plain); err != nil {
			// The bytes are good even if the cache write failed;
			// serve them and let a later read retry the admit.
			c.logger.Warn("cache admit failed",
				"id", key,
				"error", err,
			)
		}
		return plain, nil
	})
	if err != nil {
		return nil, err
	}
	return data.([]byte), nil
}
