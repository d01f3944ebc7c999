// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package fl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/flkit/flkit/lib/blob"
	"github.com/flkit/flkit/lib/meta"
	"github.com/flkit/flkit/lib/store"
)

// DefaultPackWorkers is the number of files uploaded concurrently.
const DefaultPackWorkers = 10

// PackOptions configures a pack run.
type PackOptions struct {
	// Source is the directory tree to pack.
	Source string

	// FLPath is where the FL file is created. An existing file is
	// truncated.
	FLPath string

	// Store receives the encoded blocks. Usually a *store.Router;
	// its Routes() seed the FL's route table.
	Store store.Store

	// BlockSize is the plaintext chunk size. Zero means
	// blob.DefaultBlockSize. The value is recorded in the
	// block-size tag.
	BlockSize int

	// KeepPasswords disables the password-stripping applied to
	// route URLs before they are written into the FL.
	KeepPasswords bool

	// Workers bounds concurrent file uploads. Zero means
	// DefaultPackWorkers.
	Workers int

	// Logger receives progress and failure messages. If nil, a
	// no-op logger is used.
	Logger *slog.Logger
}

// Pack walks a source tree, writes its metadata into a fresh FL, and
// uploads every file's blocks through the store. Directory entries
// are inserted parents-first; file contents are chunked, encoded,
// and written as they are read. Upload failures are collected per
// file; a pack with any failed file returns an error after the walk
// completes, leaving the partial FL for the caller to discard.
func Pack(ctx context.Context, opts PackOptions) error {
	if opts.Source == "" || opts.FLPath == "" || opts.Store == nil {
		return &store.ConfigError{Reason: "pack requires a source, an FL path, and a store"}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = blob.DefaultBlockSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultPackWorkers
	}

	flStore, err := meta.Create(ctx, opts.FLPath, logger)
	if err != nil {
		return err
	}
	defer flStore.Close()

	if err := writeRouteTable(ctx, flStore, opts.Store, opts.KeepPasswords); err != nil {
		return err
	}
	if err := flStore.SetTag(ctx, meta.TagBlockSize, strconv.Itoa(blockSize)); err != nil {
		return err
	}

	packer := &packer{
		fl:        flStore,
		store:     opts.Store,
		blockSize: blockSize,
		logger:    logger,
	}
	packer.group, packer.groupCtx = errgroup.WithContext(ctx)
	packer.group.SetLimit(workers)

	if err := packer.walk(ctx, opts.Source); err != nil {
		packer.group.Wait()
		return err
	}
	if err := packer.group.Wait(); err != nil {
		return err
	}

	if failures := packer.takeFailures(); len(failures) > 0 {
		for _, failure := range failures {
			logger.Error("failed to upload file",
				"path", failure.path,
				"error", failure.err,
			)
		}
		return fmt.Errorf("failed to upload %d file(s): first failure %s: %w",
			len(failures), failures[0].path, failures[0].err)
	}
	return nil
}

// writeRouteTable seeds the FL's route table from the destination
// store's declared routes, stripping userinfo passwords unless the
// operator kept them.
func writeRouteTable(ctx context.Context, flStore *meta.Store, blockStore store.Store, keepPasswords bool) error {
	routes := blockStore.Routes()
	if len(routes) == 0 {
		return &store.ConfigError{Reason: "store declares no routes"}
	}

	for _, route := range routes {
		routeURL := route.URL
		if !keepPasswords {
			stripped, err := store.StripPassword(routeURL)
			if err != nil {
				return err
			}
			routeURL = stripped
		}
		if err := flStore.AddRoute(ctx, meta.Route{Start: route.Start, End: route.End, URL: routeURL}); err != nil {
			return err
		}
	}
	return nil
}

type packFailure struct {
	path string
	err  error
}

type packer struct {
	fl        *meta.Store
	store     store.Store
	blockSize int
	logger    *slog.Logger

	group    *errgroup.Group
	groupCtx context.Context

	mu       sync.Mutex
	failures []packFailure
}

// dirItem is one directory waiting to be scanned, already inserted
// as an inode.
type dirItem struct {
	ino  meta.Ino
	path string
}

// walk inserts the root inode and processes directories depth-first,
// parents before their children (a work list used as a stack rather
// than recursion, so arbitrarily deep trees cannot exhaust the stack). Regular-file uploads are handed to the
// worker group as they are discovered.
func (p *packer) walk(ctx context.Context, source string) error {
	rootStat, err := lstat(source)
	if err != nil {
		return fmt.Errorf("stating pack source: %w", err)
	}
	if !meta.Mode(rootStat.Mode).Is(meta.TypeDir) {
		return &store.ConfigError{Reason: fmt.Sprintf("pack source %s is not a directory", source)}
	}

	rootIno, err := p.fl.AddInode(ctx, meta.Inode{
		Parent: 0,
		Name:   "",
		Mode:   meta.Mode(rootStat.Mode),
		UID:    rootStat.Uid,
		GID:    rootStat.Gid,
		Ctime:  rootStat.Ctim.Sec,
		Mtime:  rootStat.Mtim.Sec,
	})
	if err != nil {
		return err
	}

	pending := []dirItem{{ino: rootIno, path: source}}
	for len(pending) > 0 {
		item := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		children, err := p.scanDir(ctx, item)
		if err != nil {
			return err
		}
		pending = append(pending, children...)
	}
	return nil
}

// scanDir inserts an inode for every entry of one directory and
// returns the subdirectories for later scanning.
func (p *packer) scanDir(ctx context.Context, dir dirItem) ([]dirItem, error) {
	entries, err := os.ReadDir(dir.path)
	if err != nil {
		return nil, fmt.Errorf("listing directory %s: %w", dir.path, err)
	}

	var subdirs []dirItem
	for _, entry := range entries {
		entryPath := filepath.Join(dir.path, entry.Name())

		stat, err := lstat(entryPath)
		if err != nil {
			return nil, fmt.Errorf("stating %s: %w", entryPath, err)
		}

		inode := meta.Inode{
			Parent: dir.ino,
			Name:   entry.Name(),
			UID:    stat.Uid,
			GID:    stat.Gid,
			Mode:   meta.Mode(stat.Mode),
			Rdev:   stat.Rdev,
			Ctime:  stat.Ctim.Sec,
			Mtime:  stat.Mtim.Sec,
		}

		mode := meta.Mode(stat.Mode)
		switch {
		case mode.Is(meta.TypeRegular):
			inode.Size = uint64(stat.Size)
		case mode.Is(meta.TypeLink):
			target, err := os.Readlink(entryPath)
			if err != nil {
				return nil, fmt.Errorf("reading symlink %s: %w", entryPath, err)
			}
			inode.Extra = target
		}

		ino, err := p.fl.AddInode(ctx, inode)
		if err != nil {
			return nil, err
		}

		switch {
		case mode.Is(meta.TypeDir):
			subdirs = append(subdirs, dirItem{ino: ino, path: entryPath})
		case mode.Is(meta.TypeRegular):
			p.group.Go(func() error {
				if err := p.upload(p.groupCtx, ino, entryPath); err != nil {
					p.recordFailure(entryPath, err)
				}
				return nil
			})
		}
	}
	return subdirs, nil
}

// upload chunks one file and writes its blocks through the store,
// appending a block row per chunk in file order. A chunk that is
// already present anywhere in the route set costs one idempotent
// set — that is the whole-archive deduplication.
func (p *packer) upload(ctx context.Context, ino meta.Ino, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer file.Close()

	p.logger.Debug("uploading", "path", filePath)

	buffer := make([]byte, p.blockSize)
	for {
		n, err := io.ReadFull(file, buffer)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("reading %s: %w", filePath, err)
		}

		ciphertext, block, encodeErr := blob.Encode(buffer[:n])
		if encodeErr != nil {
			return encodeErr
		}
		if err := p.store.Set(ctx, block.ID, ciphertext); err != nil {
			return err
		}
		if err := p.fl.AddBlock(ctx, ino, block); err != nil {
			return err
		}

		if err == io.ErrUnexpectedEOF {
			break
		}
	}
	return nil
}

func (p *packer) recordFailure(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, packFailure{path: path, err: err})
}

func (p *packer) takeFailures() []packFailure {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// lstat wraps unix.Lstat with the error context all call sites want.
func lstat(path string) (unix.Stat_t, error) {
	var stat unix.Stat_t
	if err := unix.Lstat(path, &stat); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return stat, os.ErrNotExist
		}
		return stat, err
	}
	return stat, nil
}
