// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package fl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/flkit/flkit/lib/cache"
	"github.com/flkit/flkit/lib/meta"
)

// DefaultUnpackWorkers is the number of files materialized
// concurrently. Block-level parallelism within each file comes from
// the fetcher's pool on top of this.
const DefaultUnpackWorkers = 4

// UnpackOptions configures an unpack run.
type UnpackOptions struct {
	// FL is the opened meta store to materialize.
	FL *meta.Store

	// Fetcher pulls blocks through cache, router, and codec.
	Fetcher *cache.Fetcher

	// Target is the directory the tree is recreated under. Created
	// if absent.
	Target string

	// PreserveOwnership restores uid/gid on every entry. Usually
	// requires running as root.
	PreserveOwnership bool

	// Workers bounds concurrent file downloads. Zero means
	// DefaultUnpackWorkers.
	Workers int

	// Logger receives progress and failure messages.
	Logger *slog.Logger
}

// Unpack materializes an FL under the target directory: directories,
// regular files (streamed through the fetcher), symlinks, and device
// nodes, with permissions and modification times restored. Per-file
// fetch failures are reported together after the walk; the partial
// target is left in place for inspection.
func Unpack(ctx context.Context, opts UnpackOptions) error {
	if opts.FL == nil || opts.Fetcher == nil || opts.Target == "" {
		return fmt.Errorf("unpack requires an FL, a fetcher, and a target")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultUnpackWorkers
	}

	unpacker := &unpacker{
		fl:       opts.FL,
		fetcher:  opts.Fetcher,
		target:   opts.Target,
		preserve: opts.PreserveOwnership,
		logger:   logger,
	}
	unpacker.group, unpacker.groupCtx = errgroup.WithContext(ctx)
	unpacker.group.SetLimit(workers)

	walkErr := opts.FL.Walk(ctx, unpacker.visit)
	groupErr := unpacker.group.Wait()
	if walkErr != nil {
		return walkErr
	}
	if groupErr != nil {
		return groupErr
	}

	if len(unpacker.failures) > 0 {
		for _, failure := range unpacker.failures {
			logger.Error("failed to unpack file",
				"path", failure.path,
				"error", failure.err,
			)
		}
		return fmt.Errorf("failed to unpack %d file(s): first failure %s: %w",
			len(unpacker.failures), unpacker.failures[0].path, unpacker.failures[0].err)
	}

	// Times go last, children before parents, so creating entries
	// inside a directory cannot disturb its restored mtime.
	return unpacker.restoreTimes()
}

type unpacker struct {
	fl       *meta.Store
	fetcher  *cache.Fetcher
	target   string
	preserve bool
	logger   *slog.Logger

	group    *errgroup.Group
	groupCtx context.Context

	mu       sync.Mutex
	failures []packFailure

	// times records (path, mtime) in visit order; restoreTimes
	// applies it in reverse.
	times []timeEntry
}

type timeEntry struct {
	path  string
	mtime int64
}

func (u *unpacker) visit(filePath string, node meta.Inode) error {
	rooted := filepath.Join(u.target, filepath.FromSlash(filePath))

	switch node.Mode.FileType() {
	case meta.TypeDir:
		if err := os.MkdirAll(rooted, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", rooted, err)
		}
		if err := os.Chmod(rooted, os.FileMode(node.Mode.Permissions())); err != nil {
			return fmt.Errorf("setting mode on %s: %w", rooted, err)
		}

	case meta.TypeRegular:
		// Ownership and mode are restored by materialize once the
		// file exists; only the mtime entry is recorded here.
		u.group.Go(func() error {
			if err := u.materialize(u.groupCtx, rooted, node); err != nil {
				u.recordFailure(rooted, err)
			}
			return nil
		})
		u.times = append(u.times, timeEntry{path: rooted, mtime: node.Mtime})
		return nil

	case meta.TypeLink:
		if node.Extra == "" {
			return fmt.Errorf("symlink %s has no recorded target", rooted)
		}
		// The target is recreated verbatim: a relative link stays
		// relative, never resolved against the unpack root.
		if err := os.Symlink(node.Extra, rooted); err != nil {
			return fmt.Errorf("creating symlink %s: %w", rooted, err)
		}

	case meta.TypeBlock, meta.TypeChar, meta.TypeFIFO, meta.TypeSocket:
		if err := unix.Mknod(rooted, uint32(node.Mode), int(node.Rdev)); err != nil {
			return fmt.Errorf("creating node %s: %w", rooted, err)
		}

	default:
		u.logger.Warn("skipping inode of unknown kind",
			"path", rooted,
			"mode", fmt.Sprintf("%o", uint32(node.Mode)),
		)
		return nil
	}

	if u.preserve {
		if err := os.Lchown(rooted, int(node.UID), int(node.GID)); err != nil {
			return fmt.Errorf("restoring ownership of %s: %w", rooted, err)
		}
	}

	u.times = append(u.times, timeEntry{path: rooted, mtime: node.Mtime})
	return nil
}

// materialize streams one regular file's blocks to disk in order.
func (u *unpacker) materialize(ctx context.Context, rooted string, node meta.Inode) error {
	blocks, err := u.fl.Blocks(ctx, node.Ino)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(rooted, os.O_CREATE|os.O_EXCL|os.O_WRONLY, os.FileMode(node.Mode.Permissions()))
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	u.logger.Debug("downloading", "path", rooted, "blocks", len(blocks))

	err = u.fetcher.Stream(ctx, blocks, 0, func(plain []byte) error {
		_, writeErr := file.Write(plain)
		return writeErr
	})
	if err != nil {
		return err
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("closing file: %w", err)
	}
	// Re-apply the mode: the O_CREATE mode was filtered by umask.
	if err := os.Chmod(rooted, os.FileMode(node.Mode.Permissions())); err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}
	if u.preserve {
		if err := os.Lchown(rooted, int(node.UID), int(node.GID)); err != nil {
			return fmt.Errorf("restoring ownership: %w", err)
		}
	}
	return nil
}

func (u *unpacker) recordFailure(path string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failures = append(u.failures, packFailure{path: path, err: err})
}

// restoreTimes applies recorded mtimes in reverse visit order, so
// every directory is stamped after its contents. ctime cannot be set
// from userspace; it tracks the restore itself.
func (u *unpacker) restoreTimes() error {
	for i := len(u.times) - 1; i >= 0; i-- {
		entry := u.times[i]
		timevals := []unix.Timeval{
			{Sec: entry.mtime},
			{Sec: entry.mtime},
		}
		if err := unix.Lutimes(entry.path, timevals); err != nil {
			return fmt.Errorf("restoring mtime of %s: %w", entry.path, err)
		}
	}
	return nil
}
