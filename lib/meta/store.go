// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/flkit/flkit/lib/blob"
	"github.com/flkit/flkit/lib/sqlitepool"
)

// schema is applied when a new FL is created. Block ids and keys are
// stored as opaque 32-byte BLOBs; the router only ever inspects the
// first byte. Block row order within an ino is insertion order
// (rowid), which is the file reassembly order.
const schema = `
CREATE TABLE IF NOT EXISTS inode (
    ino INTEGER PRIMARY KEY AUTOINCREMENT,
    parent INTEGER,
    name TEXT,
    size INTEGER,
    uid INTEGER,
    gid INTEGER,
    mode INTEGER,
    rdev INTEGER,
    ctime INTEGER,
    mtime INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS inode_parent_name ON inode (parent, name);

CREATE TABLE IF NOT EXISTS extra (
    ino INTEGER PRIMARY KEY,
    data TEXT
);

CREATE TABLE IF NOT EXISTS block (
    ino INTEGER,
    id BLOB,
    key BLOB
);
CREATE INDEX IF NOT EXISTS block_ino ON block (ino);

CREATE TABLE IF NOT EXISTS route (
    start INTEGER,
    end INTEGER,
    url TEXT
);

CREATE TABLE IF NOT EXISTS tag (
    key TEXT PRIMARY KEY,
    value TEXT
);
`

// requiredTables is what Open verifies before trusting a file.
var requiredTables = []string{"inode", "extra", "block", "route", "tag"}

// Store is an open FL. A writable store (from Create) is owned by a
// single packer; a read-only store (from Open) is shared freely.
type Store struct {
	pool *sqlitepool.Pool
	path string
}

// Create makes a fresh FL at the given path, truncating any existing
// file, and writes the schema plus the version tag. The returned
// store is writable.
func Create(ctx context.Context, flPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// Truncate: packing into an existing FL would silently merge
	// two filesystems.
	file, err := os.Create(flPath)
	if err != nil {
		return nil, fmt.Errorf("creating FL file %s: %w", flPath, err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("creating FL file %s: %w", flPath, err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   flPath,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, err
	}

	store := &Store{pool: pool, path: flPath}

	if err := store.SetTag(ctx, TagVersion, Version); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Debug("FL created", "path", flPath)
	return store, nil
}

// Open opens an existing FL read-only and verifies its schema.
func Open(ctx context.Context, flPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if _, err := os.Stat(flPath); err != nil {
		return nil, fmt.Errorf("opening FL %s: %w", flPath, err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     flPath,
		ReadOnly: true,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	store := &Store{pool: pool, path: flPath}

	if err := store.verifySchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// OpenWritable opens an existing FL for offline config edits (tag
// and route table maintenance). It verifies the schema first.
func OpenWritable(ctx context.Context, flPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if _, err := os.Stat(flPath); err != nil {
		return nil, fmt.Errorf("opening FL %s: %w", flPath, err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   flPath,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	store := &Store{pool: pool, path: flPath}

	if err := store.verifySchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the underlying connection pool. The FL file is
// complete and shippable once a writable store is closed. Closing an
// already closed store is a no-op.
func (s *Store) Close() error {
	if s.pool == nil {
		return nil
	}
	err := s.pool.Close()
	s.pool = nil
	return err
}

// Path returns the FL file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) verifySchema(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	for _, table := range requiredTables {
		found := false
		err := sqlitex.Execute(conn,
			"SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?",
			&sqlitex.ExecOptions{
				Args: []any{table},
				ResultFunc: func(*sqlite.Stmt) error {
					found = true
					return nil
				},
			})
		if err != nil {
			return &SchemaError{Path: s.path, Reason: err.Error()}
		}
		if !found {
			return &SchemaError{Path: s.path, Reason: fmt.Sprintf("missing table %q", table)}
		}
	}
	return nil
}

// AddInode inserts an inode row (and its extra payload when set) and
// returns the assigned ino. The first inode inserted into a fresh FL
// is the root and receives ino 1.
func (s *Store) AddInode(ctx context.Context, inode Inode) (Ino, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO inode (parent, name, size, uid, gid, mode, rdev, ctime, mtime)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			int64(inode.Parent), inode.Name, int64(inode.Size),
			int64(inode.UID), int64(inode.GID), int64(inode.Mode),
			int64(inode.Rdev), inode.Ctime, inode.Mtime,
		}})
	if err != nil {
		return 0, fmt.Errorf("inserting inode %q: %w", inode.Name, err)
	}

	ino := Ino(conn.LastInsertRowID())

	if inode.Extra != "" {
		err = sqlitex.Execute(conn,
			"INSERT INTO extra (ino, data) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{int64(ino), inode.Extra}})
		if err != nil {
			return 0, fmt.Errorf("inserting extra for ino %d: %w", ino, err)
		}
	}

	return ino, nil
}

// AddBlock appends a block row for an inode. Rows are retrieved in
// insertion order; callers must insert a file's blocks sequentially.
func (s *Store) AddBlock(ctx context.Context, ino Ino, block blob.Block) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO block (ino, id, key) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{int64(ino), block.ID[:], block.Key[:]}})
	if err != nil {
		return fmt.Errorf("inserting block for ino %d: %w", ino, err)
	}
	return nil
}

// AddRoute appends a route row.
func (s *Store) AddRoute(ctx context.Context, route Route) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO route (start, end, url) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{int64(route.Start), int64(route.End), route.URL}})
	if err != nil {
		return fmt.Errorf("inserting route %q: %w", route.URL, err)
	}
	return nil
}

// DeleteRoutes removes every route row. Used by config edits that
// replace the route table wholesale.
func (s *Store) DeleteRoutes(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM route", nil); err != nil {
		return fmt.Errorf("deleting routes: %w", err)
	}
	return nil
}

// SetTag inserts or replaces a tag.
func (s *Store) SetTag(ctx context.Context, key, value string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO tag (key, value) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("setting tag %q: %w", key, err)
	}
	return nil
}

// DeleteTag removes a tag. Deleting an absent tag is a no-op.
func (s *Store) DeleteTag(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM tag WHERE key = ?",
		&sqlitex.ExecOptions{Args: []any{key}})
	if err != nil {
		return fmt.Errorf("deleting tag %q: %w", key, err)
	}
	return nil
}

// Tag returns a tag's value, or ErrNotFound.
func (s *Store) Tag(ctx context.Context, key string) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", err
	}
	defer s.pool.Put(conn)

	var value string
	found := false
	err = sqlitex.Execute(conn, "SELECT value FROM tag WHERE key = ?",
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("reading tag %q: %w", key, err)
	}
	if !found {
		return "", fmt.Errorf("tag %q: %w", key, ErrNotFound)
	}
	return value, nil
}

// Tags returns every tag as a key-to-value map; the map carries no
// ordering.
func (s *Store) Tags(ctx context.Context) (map[string]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	tags := make(map[string]string)
	err = sqlitex.Execute(conn, "SELECT key, value FROM tag ORDER BY key",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tags[stmt.ColumnText(0)] = stmt.ColumnText(1)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return tags, nil
}

// Routes returns the route table in insertion order.
func (s *Store) Routes(ctx context.Context) ([]Route, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var routes []Route
	err = sqlitex.Execute(conn, "SELECT start, end, url FROM route ORDER BY rowid",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				routes = append(routes, Route{
					Start: byte(stmt.ColumnInt64(0)),
					End:   byte(stmt.ColumnInt64(1)),
					URL:   stmt.ColumnText(2),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing routes: %w", err)
	}
	return routes, nil
}

const inodeColumns = `inode.ino, inode.parent, inode.name, inode.size,
	inode.uid, inode.gid, inode.mode, inode.rdev, inode.ctime, inode.mtime,
	extra.data`

func scanInode(stmt *sqlite.Stmt) Inode {
	return Inode{
		Ino:    Ino(stmt.ColumnInt64(0)),
		Parent: Ino(stmt.ColumnInt64(1)),
		Name:   stmt.ColumnText(2),
		Size:   uint64(stmt.ColumnInt64(3)),
		UID:    uint32(stmt.ColumnInt64(4)),
		GID:    uint32(stmt.ColumnInt64(5)),
		Mode:   Mode(stmt.ColumnInt64(6)),
		Rdev:   uint64(stmt.ColumnInt64(7)),
		Ctime:  stmt.ColumnInt64(8),
		Mtime:  stmt.ColumnInt64(9),
		Extra:  stmt.ColumnText(10),
	}
}

// InodeByID returns the inode row for an ino, or ErrNotFound.
func (s *Store) InodeByID(ctx context.Context, ino Ino) (Inode, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Inode{}, err
	}
	defer s.pool.Put(conn)

	var inode Inode
	found := false
	err = sqlitex.Execute(conn,
		"SELECT "+inodeColumns+" FROM inode LEFT JOIN extra ON inode.ino = extra.ino WHERE inode.ino = ?",
		&sqlitex.ExecOptions{
			Args: []any{int64(ino)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				inode = scanInode(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return Inode{}, fmt.Errorf("reading inode %d: %w", ino, err)
	}
	if !found {
		return Inode{}, fmt.Errorf("inode %d: %w", ino, ErrNotFound)
	}
	return inode, nil
}

// Lookup resolves a directory entry by (parent, name), or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, parent Ino, name string) (Inode, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Inode{}, err
	}
	defer s.pool.Put(conn)

	var inode Inode
	found := false
	err = sqlitex.Execute(conn,
		"SELECT "+inodeColumns+" FROM inode LEFT JOIN extra ON inode.ino = extra.ino WHERE inode.parent = ? AND inode.name = ?",
		&sqlitex.ExecOptions{
			Args: []any{int64(parent), name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				inode = scanInode(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return Inode{}, fmt.Errorf("lookup %d/%s: %w", parent, name, err)
	}
	if !found {
		return Inode{}, fmt.Errorf("lookup %d/%s: %w", parent, name, ErrNotFound)
	}
	return inode, nil
}

// Children lists a directory's entries sorted by name. Name order is
// the pinned readdir order — it must not change between versions or
// the mount's readdir cookies break.
func (s *Store) Children(ctx context.Context, parent Ino) ([]Inode, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var children []Inode
	err = sqlitex.Execute(conn,
		"SELECT "+inodeColumns+" FROM inode LEFT JOIN extra ON inode.ino = extra.ino WHERE inode.parent = ? AND inode.ino != ? ORDER BY inode.name",
		&sqlitex.ExecOptions{
			Args: []any{int64(parent), int64(RootIno)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				children = append(children, scanInode(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing children of %d: %w", parent, err)
	}
	return children, nil
}

// Blocks returns a regular file's block list in insertion order —
// the reassembly order.
func (s *Store) Blocks(ctx context.Context, ino Ino) ([]blob.Block, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var blocks []blob.Block
	err = sqlitex.Execute(conn,
		"SELECT id, key FROM block WHERE ino = ? ORDER BY rowid",
		&sqlitex.ExecOptions{
			Args: []any{int64(ino)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				block, err := scanBlock(stmt)
				if err != nil {
					return err
				}
				blocks = append(blocks, block)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing blocks of ino %d: %w", ino, err)
	}
	return blocks, nil
}

// AllBlocks returns every block row in the FL, in insertion order.
// Used by the cloner. Duplicate (id, key) pairs appear once per
// referencing row; callers that only need the unique set deduplicate
// by id.
func (s *Store) AllBlocks(ctx context.Context) ([]blob.Block, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var blocks []blob.Block
	err = sqlitex.Execute(conn,
		"SELECT id, key FROM block ORDER BY rowid",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				block, err := scanBlock(stmt)
				if err != nil {
					return err
				}
				blocks = append(blocks, block)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing all blocks: %w", err)
	}
	return blocks, nil
}

func scanBlock(stmt *sqlite.Stmt) (blob.Block, error) {
	var block blob.Block

	idLen := stmt.ColumnLen(0)
	keyLen := stmt.ColumnLen(1)
	if idLen != len(block.ID) || keyLen != len(block.Key) {
		return block, fmt.Errorf("block row has %d-byte id and %d-byte key, want %d", idLen, keyLen, len(block.ID))
	}

	stmt.ColumnBytes(0, block.ID[:])
	stmt.ColumnBytes(1, block.Key[:])
	return block, nil
}

// WalkFunc visits one inode during a Walk. The path is rooted at "/"
// and uses forward slashes. Returning an error stops the walk.
type WalkFunc func(filePath string, inode Inode) error

// Walk traverses the inode tree depth-first from the root, visiting
// parents before children. Children are visited in name order.
func (s *Store) Walk(ctx context.Context, visit WalkFunc) error {
	root, err := s.InodeByID(ctx, RootIno)
	if err != nil {
		return err
	}
	return s.walkNode(ctx, "/", root, visit)
}

func (s *Store) walkNode(ctx context.Context, filePath string, node Inode, visit WalkFunc) error {
	if err := visit(filePath, node); err != nil {
		return err
	}
	if !node.Mode.Is(TypeDir) {
		return nil
	}

	children, err := s.Children(ctx, node.Ino)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.walkNode(ctx, path.Join(filePath, child.Name), child, visit); err != nil {
			return err
		}
	}
	return nil
}
