// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package fl

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/flkit/flkit/lib/blob"
	"github.com/flkit/flkit/lib/meta"
	"github.com/flkit/flkit/lib/store"
)

// DefaultCloneWorkers is the number of blocks copied concurrently.
const DefaultCloneWorkers = 10

// CloneOptions configures a clone run.
type CloneOptions struct {
	// FL provides the block list to copy.
	FL *meta.Store

	// Source serves the existing blocks — typically a router built
	// from the FL's current route table.
	Source *store.Router

	// Destination receives the copies — typically a router over the
	// new store set. After a successful clone the caller swaps the
	// FL's route table to match.
	Destination store.Store

	// Workers bounds concurrent copies. Zero means
	// DefaultCloneWorkers.
	Workers int

	// Logger receives progress messages.
	Logger *slog.Logger
}

// Clone copies every block referenced by the FL from the source
// route set to the destination, as opaque ciphertext — no decryption
// or re-encoding, so the copies remain byte-identical and keep their
// ids. Blocks referenced by several files are copied once.
func Clone(ctx context.Context, opts CloneOptions) error {
	if opts.FL == nil || opts.Source == nil || opts.Destination == nil {
		return &store.ConfigError{Reason: "clone requires an FL, a source router, and a destination store"}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultCloneWorkers
	}

	rows, err := opts.FL.AllBlocks(ctx)
	if err != nil {
		return err
	}

	// Deduplicate: the block table has one row per reference, the
	// store needs each id once.
	seen := make(map[blob.Hash]struct{}, len(rows))
	var unique []blob.Hash
	for _, row := range rows {
		if _, duplicate := seen[row.ID]; duplicate {
			continue
		}
		seen[row.ID] = struct{}{}
		unique = append(unique, row.ID)
	}

	logger.Info("cloning blocks",
		"referenced", len(rows),
		"unique", len(unique),
	)

	var copied atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for _, id := range unique {
		group.Go(func() error {
			ciphertext, err := opts.Source.Get(groupCtx, id)
			if err != nil {
				return err
			}
			if err := opts.Destination.Set(groupCtx, id, ciphertext); err != nil {
				return err
			}
			copied.Add(1)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("clone complete", "copied", copied.Load())
	return nil
}
