// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/flkit/flkit/lib/blob"
)

func createTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	flPath := filepath.Join(t.TempDir(), "test.fl")
	store, err := Create(context.Background(), flPath, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, flPath
}

func TestRootInodeGetsIno1(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	ino, err := store.AddInode(ctx, Inode{
		Parent: 0,
		Name:   "",
		Mode:   NewMode(TypeDir, 0o755),
	})
	if err != nil {
		t.Fatalf("AddInode failed: %v", err)
	}
	if ino != RootIno {
		t.Errorf("root ino = %d, want %d", ino, RootIno)
	}
}

func TestInodeRoundTrip(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	root, err := store.AddInode(ctx, Inode{Mode: NewMode(TypeDir, 0o755)})
	if err != nil {
		t.Fatalf("AddInode root failed: %v", err)
	}

	want := Inode{
		Parent: root,
		Name:   "config.toml",
		Size:   1234,
		UID:    1000,
		GID:    1000,
		Mode:   NewMode(TypeRegular, 0o644),
		Ctime:  1700000000,
		Mtime:  1700000001,
	}
	ino, err := store.AddInode(ctx, want)
	if err != nil {
		t.Fatalf("AddInode failed: %v", err)
	}

	got, err := store.InodeByID(ctx, ino)
	if err != nil {
		t.Fatalf("InodeByID failed: %v", err)
	}

	want.Ino = ino
	if got != want {
		t.Errorf("inode round trip:\n got %+v\nwant %+v", got, want)
	}
}

func TestSymlinkExtra(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	root, _ := store.AddInode(ctx, Inode{Mode: NewMode(TypeDir, 0o755)})
	ino, err := store.AddInode(ctx, Inode{
		Parent: root,
		Name:   "link",
		Mode:   NewMode(TypeLink, 0o777),
		Extra:  "target/file",
	})
	if err != nil {
		t.Fatalf("AddInode failed: %v", err)
	}

	inode, err := store.InodeByID(ctx, ino)
	if err != nil {
		t.Fatalf("InodeByID failed: %v", err)
	}
	if inode.Extra != "target/file" {
		t.Errorf("extra = %q, want %q", inode.Extra, "target/file")
	}
}

func TestLookupAndChildrenOrdering(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	root, _ := store.AddInode(ctx, Inode{Mode: NewMode(TypeDir, 0o755)})

	// Inserted out of order; Children must come back name-sorted.
	for _, name := range []string{"zsh", "bin", "etc", "usr"} {
		_, err := store.AddInode(ctx, Inode{
			Parent: root,
			Name:   name,
			Mode:   NewMode(TypeDir, 0o755),
		})
		if err != nil {
			t.Fatalf("AddInode %s failed: %v", name, err)
		}
	}

	children, err := store.Children(ctx, root)
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}

	wantOrder := []string{"bin", "etc", "usr", "zsh"}
	if len(children) != len(wantOrder) {
		t.Fatalf("got %d children, want %d", len(children), len(wantOrder))
	}
	for i, want := range wantOrder {
		if children[i].Name != want {
			t.Errorf("children[%d] = %q, want %q", i, children[i].Name, want)
		}
	}

	child, err := store.Lookup(ctx, root, "etc")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if child.Name != "etc" {
		t.Errorf("Lookup returned %q", child.Name)
	}

	_, err = store.Lookup(ctx, root, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup missing: got %v, want ErrNotFound", err)
	}
}

func TestBlocksPreserveInsertionOrder(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	root, _ := store.AddInode(ctx, Inode{Mode: NewMode(TypeDir, 0o755)})
	ino, _ := store.AddInode(ctx, Inode{
		Parent: root, Name: "data.bin", Mode: NewMode(TypeRegular, 0o644),
	})

	var want []blob.Block
	for i := 0; i < 5; i++ {
		block := blob.Block{
			ID:  blob.Sum([]byte{byte(i), 'i'}),
			Key: blob.Sum([]byte{byte(i), 'k'}),
		}
		want = append(want, block)
		if err := store.AddBlock(ctx, ino, block); err != nil {
			t.Fatalf("AddBlock %d failed: %v", i, err)
		}
	}

	got, err := store.Blocks(ctx, ino)
	if err != nil {
		t.Fatalf("Blocks failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("block %d out of order", i)
		}
	}
}

func TestTags(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	// Create writes the version tag.
	version, err := store.Tag(ctx, TagVersion)
	if err != nil {
		t.Fatalf("version tag missing: %v", err)
	}
	if version != Version {
		t.Errorf("version = %q, want %q", version, Version)
	}

	if err := store.SetTag(ctx, TagBlockSize, "524288"); err != nil {
		t.Fatalf("SetTag failed: %v", err)
	}
	if err := store.SetTag(ctx, "custom", "value"); err != nil {
		t.Fatalf("SetTag custom failed: %v", err)
	}

	tags, err := store.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags failed: %v", err)
	}
	if tags["block-size"] != "524288" || tags["custom"] != "value" {
		t.Errorf("tags = %v", tags)
	}

	if err := store.DeleteTag(ctx, "custom"); err != nil {
		t.Fatalf("DeleteTag failed: %v", err)
	}
	if _, err := store.Tag(ctx, "custom"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted tag: got %v, want ErrNotFound", err)
	}
}

func TestRoutes(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	routes := []Route{
		{Start: 0x00, End: 0x7f, URL: "dir:///tmp/s1"},
		{Start: 0x80, End: 0xff, URL: "dir:///tmp/s2"},
	}
	for _, route := range routes {
		if err := store.AddRoute(ctx, route); err != nil {
			t.Fatalf("AddRoute failed: %v", err)
		}
	}

	got, err := store.Routes(ctx)
	if err != nil {
		t.Fatalf("Routes failed: %v", err)
	}
	if len(got) != 2 || got[0] != routes[0] || got[1] != routes[1] {
		t.Errorf("routes = %+v, want %+v", got, routes)
	}

	if err := store.DeleteRoutes(ctx); err != nil {
		t.Fatalf("DeleteRoutes failed: %v", err)
	}
	got, err = store.Routes(ctx)
	if err != nil {
		t.Fatalf("Routes after delete failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("routes after delete = %+v, want empty", got)
	}
}

func TestOpenRejectsNonFL(t *testing.T) {
	bogus := filepath.Join(t.TempDir(), "not-an-fl")
	if err := os.WriteFile(bogus, []byte("plain text"), 0o644); err != nil {
		t.Fatalf("writing bogus file: %v", err)
	}

	_, err := Open(context.Background(), bogus, nil)
	if err == nil {
		t.Fatal("Open accepted a non-FL file")
	}
}

func TestOpenReadOnlyAfterPack(t *testing.T) {
	store, flPath := createTestStore(t)
	ctx := context.Background()

	root, _ := store.AddInode(ctx, Inode{Mode: NewMode(TypeDir, 0o755)})
	_, err := store.AddInode(ctx, Inode{
		Parent: root, Name: "a", Mode: NewMode(TypeRegular, 0o644), Size: 6,
	})
	if err != nil {
		t.Fatalf("AddInode failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	opened, err := Open(ctx, flPath, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer opened.Close()

	inode, err := opened.Lookup(ctx, RootIno, "a")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if inode.Size != 6 {
		t.Errorf("size = %d, want 6", inode.Size)
	}
}

func TestWalkVisitsDepthFirst(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	root, _ := store.AddInode(ctx, Inode{Mode: NewMode(TypeDir, 0o755)})
	dir, _ := store.AddInode(ctx, Inode{Parent: root, Name: "b", Mode: NewMode(TypeDir, 0o755)})
	store.AddInode(ctx, Inode{Parent: root, Name: "a", Mode: NewMode(TypeRegular, 0o644)})
	store.AddInode(ctx, Inode{Parent: dir, Name: "c", Mode: NewMode(TypeRegular, 0o644)})

	var visited []string
	err := store.Walk(ctx, func(filePath string, inode Inode) error {
		visited = append(visited, filePath)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	want := []string{"/", "/a", "/b", "/b/c"}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Errorf("visited[%d] = %q, want %q", i, visited[i], want[i])
		}
	}
}

func TestMode(t *testing.T) {
	mode := NewMode(TypeRegular, 0o754)
	if mode.Permissions() != 0o754 {
		t.Errorf("permissions = %o, want 754", mode.Permissions())
	}
	if !mode.Is(TypeRegular) {
		t.Errorf("file type = %v, want regular", mode.FileType())
	}
}
