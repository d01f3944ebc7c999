// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/flkit/flkit/lib/blob"
	"github.com/flkit/flkit/lib/cache"
	"github.com/flkit/flkit/lib/meta"
)

// fsBlockSize is the block size reported to statfs and stat. It is
// the filesystem's I/O granularity hint, unrelated to the FL's
// content block size.
const fsBlockSize = 4 * 1024

// Options configures a mount.
type Options struct {
	// Mountpoint is the directory the filesystem appears at.
	// Created if absent.
	Mountpoint string

	// Meta is the opened (read-only) FL.
	Meta *meta.Store

	// Fetcher pulls blocks through cache, router, and codec.
	Fetcher *cache.Fetcher

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// filesystem is the state shared by every node of one mount.
type filesystem struct {
	meta      *meta.Store
	fetcher   *cache.Fetcher
	blockSize int
	logger    *slog.Logger
}

// Mount mounts the FL at the configured mountpoint. The caller owns
// the returned server: Wait blocks until unmount, Unmount detaches.
func Mount(ctx context.Context, options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Meta == nil {
		return nil, fmt.Errorf("meta store is required")
	}
	if options.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// The block-size tag tells us how the packer chunked files. Reads
	// use it to pick the block span and the offset into its first
	// block; actual decoded lengths bound the bytes copied from each.
	blockSize := blob.DefaultBlockSize
	if tagValue, err := options.Meta.Tag(ctx, meta.TagBlockSize); err == nil {
		if parsed, err := strconv.Atoi(tagValue); err == nil && parsed > 0 {
			blockSize = parsed
		}
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	rootRow, err := options.Meta.InodeByID(ctx, meta.RootIno)
	if err != nil {
		return nil, fmt.Errorf("reading root inode: %w", err)
	}

	shared := &filesystem{
		meta:      options.Meta,
		fetcher:   options.Fetcher,
		blockSize: blockSize,
		logger:    logger,
	}
	root := &flNode{fs: shared, row: rootRow}

	entryTimeout := 1 * time.Hour
	attrTimeout := 1 * time.Hour

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     options.Meta.Path(),
			Name:       "flkit",
			AllowOther: options.AllowOther,
			Options:    []string{"ro", "default_permissions"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	logger.Info("FL mounted",
		"fl", options.Meta.Path(),
		"mountpoint", options.Mountpoint,
		"block_size", blockSize,
	)
	return server, nil
}

// flNode is one FL inode surfaced through FUSE.
type flNode struct {
	gofuse.Inode
	fs  *filesystem
	row meta.Inode
}

var _ gofuse.InodeEmbedder = (*flNode)(nil)
var _ gofuse.NodeLookuper = (*flNode)(nil)
var _ gofuse.NodeGetattrer = (*flNode)(nil)
var _ gofuse.NodeReaddirer = (*flNode)(nil)
var _ gofuse.NodeReadlinker = (*flNode)(nil)
var _ gofuse.NodeOpener = (*flNode)(nil)
var _ gofuse.NodeReader = (*flNode)(nil)
var _ gofuse.NodeStatfser = (*flNode)(nil)

func (n *flNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	row, err := n.fs.meta.Lookup(ctx, n.row.Ino, name)
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			return nil, syscall.ENOENT
		}
		n.fs.logger.Error("lookup failed", "parent", n.row.Ino, "name", name, "error", err)
		return nil, syscall.EIO
	}

	child := n.NewInode(ctx, &flNode{fs: n.fs, row: row}, gofuse.StableAttr{
		Mode: uint32(row.Mode.FileType()),
		Ino:  row.Ino,
	})
	fillAttr(&out.Attr, row)
	return child, 0
}

func (n *flNode) Getattr(_ context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, n.row)
	return 0
}

func (n *flNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	if !n.row.Mode.Is(meta.TypeDir) {
		return nil, syscall.ENOTDIR
	}

	children, err := n.fs.meta.Children(ctx, n.row.Ino)
	if err != nil {
		n.fs.logger.Error("readdir failed", "ino", n.row.Ino, "error", err)
		return nil, syscall.EIO
	}

	// Children come back name-sorted from the meta store, which is
	// the pinned readdir order.
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, child := range children {
		entries = append(entries, fuse.DirEntry{
			Name: child.Name,
			Ino:  child.Ino,
			Mode: uint32(child.Mode.FileType()),
		})
	}
	return gofuse.NewListDirStream(entries), 0
}

func (n *flNode) Readlink(context.Context) ([]byte, syscall.Errno) {
	if !n.row.Mode.Is(meta.TypeLink) {
		return nil, syscall.EINVAL
	}
	if n.row.Extra == "" {
		return nil, syscall.EINVAL
	}
	return []byte(n.row.Extra), 0
}

func (n *flNode) Open(_ context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	if !n.row.Mode.Is(meta.TypeRegular) {
		return nil, 0, syscall.EINVAL
	}

	// Content under an id never changes, so the kernel page cache
	// stays valid for the lifetime of the mount.
	return &fileHandle{node: n}, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *flNode) Read(ctx context.Context, handle gofuse.FileHandle, dest []byte, offset int64) (fuse.ReadResult, syscall.Errno) {
	file, ok := handle.(*fileHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	return file.read(ctx, dest, offset)
}

func (n *flNode) Statfs(_ context.Context, out *fuse.StatfsOut) syscall.Errno {
	out.Bsize = fsBlockSize
	out.NameLen = 255
	return 0
}

// fillAttr copies an inode row into FUSE attributes verbatim.
func fillAttr(attr *fuse.Attr, row meta.Inode) {
	attr.Ino = row.Ino
	attr.Size = row.Size
	attr.Blocks = (row.Size + 511) / 512
	attr.Blksize = fsBlockSize
	attr.Mode = uint32(row.Mode)
	attr.Uid = row.UID
	attr.Gid = row.GID
	attr.Rdev = uint32(row.Rdev)
	attr.Mtime = uint64(row.Mtime)
	attr.Ctime = uint64(row.Ctime)
	attr.Atime = uint64(row.Mtime)
	if row.Mode.Is(meta.TypeDir) {
		attr.Nlink = 2
	} else {
		attr.Nlink = 1
	}
}
