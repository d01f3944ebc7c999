// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flkit/flkit/lib/blob"
	"github.com/flkit/flkit/lib/store"
)

// Fetcher is the assembled read fabric: router → codec → cache, with
// the pool fanning misses out in parallel. Both the FUSE read path
// and the unpacker drive it.
type Fetcher struct {
	router *store.Router
	cache  *Cache
	pool   *Pool
	logger *slog.Logger
}

// NewFetcher wires a router, cache, and pool together.
func NewFetcher(router *store.Router, blockCache *Cache, pool *Pool, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{router: router, cache: blockCache, pool: pool, logger: logger}
}

// download pulls ciphertext through the router and decodes it. This
// is the FetchFunc the cache runs on a miss.
func (f *Fetcher) download(ctx context.Context, block blob.Block) ([]byte, error) {
	f.logger.Debug("downloading block", "id", blob.FormatHash(block.ID))

	ciphertext, err := f.router.Get(ctx, block.ID)
	if err != nil {
		return nil, err
	}

	plain, err := blob.Decode(ciphertext, block.Key)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", blob.FormatHash(block.ID), err)
	}
	return plain, nil
}

// Block returns one block's plaintext, from cache or by downloading.
func (f *Fetcher) Block(ctx context.Context, block blob.Block) ([]byte, error) {
	return f.cache.Get(ctx, block, f.download)
}

// Stream fetches a file's blocks with a bounded look-ahead window
// and hands each plaintext to write in order. Unlike Blocks, memory
// use is bounded by the window, so arbitrarily large files stream
// without buffering every block at once. A zero window defaults to
// DefaultWorkers, whatever the pool's own worker count.
func (f *Fetcher) Stream(ctx context.Context, blocks []blob.Block, window int, write func([]byte) error) error {
	if window <= 0 {
		window = DefaultWorkers
	}

	pending := make([]<-chan Result, 0, window)
	next := 0 // index of the next block to submit

	for delivered := 0; delivered < len(blocks); delivered++ {
		for next < len(blocks) && len(pending) < window {
			pending = append(pending, f.pool.Submit(ctx, blocks[next],
				func(jobCtx context.Context, jobBlock blob.Block) ([]byte, error) {
					return f.cache.Get(jobCtx, jobBlock, f.download)
				}))
			next++
		}

		result := <-pending[0]
		pending = pending[1:]
		if result.Err != nil {
			return fmt.Errorf("block %d (%s): %w", delivered, blob.FormatHash(blocks[delivered].ID), result.Err)
		}
		if err := write(result.Data); err != nil {
			return err
		}
	}
	return nil
}

// Blocks fetches a span of blocks and returns their plaintexts in
// the given order. Every miss is dispatched to the pool before any
// result is awaited, so a cold read fans out across the pool instead
// of degrading to sequential backend latency. The first error wins;
// remaining in-flight fetches still complete and populate the cache.
func (f *Fetcher) Blocks(ctx context.Context, blocks []blob.Block) ([][]byte, error) {
	results := make([]<-chan Result, len(blocks))
	for i, block := range blocks {
		results[i] = f.pool.Submit(ctx, block, func(jobCtx context.Context, jobBlock blob.Block) ([]byte, error) {
			return f.cache.Get(jobCtx, jobBlock, f.download)
		})
	}

	plains := make([][]byte, len(blocks))
	var firstErr error
	for i, resultChan := range results {
		result := <-resultChan
		if result.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("block %d (%s): %w", i, blob.FormatHash(blocks[i].ID), result.Err)
		}
		plains[i] = result.Data
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return plains, nil
}
