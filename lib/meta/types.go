// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/flkit/flkit/lib/blob"
)

// Ino identifies an inode row. The root directory is always ino 1;
// ino 0 is reserved and used as the root's parent.
type Ino = uint64

// RootIno is the inode number of the filesystem root.
const RootIno Ino = 1

// ErrNotFound reports a missing inode, tag, or directory entry.
var ErrNotFound = errors.New("not found in FL")

// SchemaError reports an FL file whose tables do not match the
// expected schema — the file is not an FL or was produced by an
// incompatible version.
type SchemaError struct {
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s is not a usable FL: %s", e.Path, e.Reason)
}

// FileType is the POSIX file-type portion of an inode mode.
type FileType uint32

const (
	TypeRegular FileType = unix.S_IFREG
	TypeDir     FileType = unix.S_IFDIR
	TypeLink    FileType = unix.S_IFLNK
	TypeBlock   FileType = unix.S_IFBLK
	TypeChar    FileType = unix.S_IFCHR
	TypeFIFO    FileType = unix.S_IFIFO
	TypeSocket  FileType = unix.S_IFSOCK
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDir:
		return "directory"
	case TypeLink:
		return "symlink"
	case TypeBlock:
		return "block-device"
	case TypeChar:
		return "char-device"
	case TypeFIFO:
		return "fifo"
	case TypeSocket:
		return "socket"
	default:
		return fmt.Sprintf("unknown(%o)", uint32(t))
	}
}

// Mode is a full POSIX mode value: file-type bits plus permissions.
type Mode uint32

// NewMode combines a file type with permission bits.
func NewMode(fileType FileType, permissions uint32) Mode {
	return Mode(uint32(fileType) | (permissions &^ unix.S_IFMT))
}

// FileType extracts the type bits.
func (m Mode) FileType() FileType {
	return FileType(uint32(m) & unix.S_IFMT)
}

// Permissions extracts the permission bits.
func (m Mode) Permissions() uint32 {
	return uint32(m) &^ unix.S_IFMT
}

// Is reports whether the mode carries the given file type.
func (m Mode) Is(fileType FileType) bool {
	return m.FileType() == fileType
}

// Inode is one row of the inode table, joined with its optional
// extra payload (the symlink target).
type Inode struct {
	Ino    Ino
	Parent Ino
	Name   string
	Size   uint64
	UID    uint32
	GID    uint32
	Mode   Mode
	Rdev   uint64
	Ctime  int64
	Mtime  int64

	// Extra is the payload for inode kinds that need one —
	// currently the symlink target. Empty otherwise.
	Extra string
}

// Block is one row of the block table: the position within the file
// is implicit in row order.
type Block struct {
	Ino Ino
	blob.Block
}

// Route is one row of the route table.
type Route struct {
	Start byte
	End   byte
	URL   string
}

// Reserved tag keys.
const (
	TagVersion     = "version"
	TagDescription = "description"
	TagAuthor      = "author"
	TagBlockSize   = "block-size"
)

// Version is the FL schema version written into the version tag at
// create time.
const Version = "1"
