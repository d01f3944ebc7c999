// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/flkit/flkit/lib/cache"
	"github.com/flkit/flkit/lib/fl"
	"github.com/flkit/flkit/lib/meta"
	"github.com/flkit/flkit/lib/store"
	"github.com/flkit/flkit/lib/store/storetest"
)

// fuseAvailable skips the test when /dev/fuse is absent (containers,
// CI runners without the device).
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

const testBlockSize = 64 * 1024

// testMountFixture packs a source tree into an in-memory store,
// mounts the resulting FL, and returns the mountpoint plus the
// backend for fault injection. Unmounted automatically.
func testMountFixture(t *testing.T, files map[string]string) (string, *storetest.Memory, *meta.Store) {
	t.Helper()
	fuseAvailable(t)

	ctx := context.Background()
	source := t.TempDir()
	for relative, content := range files {
		full := filepath.Join(source, filepath.FromSlash(relative))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if len(content) > 2 && content[:2] == "->" {
			if err := os.Symlink(content[2:], full); err != nil {
				t.Fatalf("symlink: %v", err)
			}
			continue
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	backend := storetest.NewMemory()
	router := store.NewRouter(nil)
	router.Add(0x00, 0xff, backend)

	flPath := filepath.Join(t.TempDir(), "test.fl")
	err := fl.Pack(ctx, fl.PackOptions{
		Source:    source,
		FLPath:    flPath,
		Store:     router,
		BlockSize: testBlockSize,
	})
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	flStore, err := meta.Open(ctx, flPath, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { flStore.Close() })

	blockCache, err := cache.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	pool := cache.NewPool(8)
	t.Cleanup(pool.Close)

	mountpoint := filepath.Join(t.TempDir(), "mnt")
	server, err := Mount(ctx, Options{
		Mountpoint: mountpoint,
		Meta:       flStore,
		Fetcher:    cache.NewFetcher(router, blockCache, pool, nil),
	})
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	t.Cleanup(func() { server.Unmount() })

	return mountpoint, backend, flStore
}

func TestMountReadsFiles(t *testing.T) {
	mountpoint, _, _ := testMountFixture(t, map[string]string{
		"a":   "hello\n",
		"b/c": "world\n",
	})

	got, err := os.ReadFile(filepath.Join(mountpoint, "a"))
	if err != nil {
		t.Fatalf("reading a: %v", err)
	}
	if string(got) != "hello\n" {
		t.Errorf("a = %q", got)
	}

	got, err = os.ReadFile(filepath.Join(mountpoint, "b", "c"))
	if err != nil {
		t.Fatalf("reading b/c: %v", err)
	}
	if string(got) != "world\n" {
		t.Errorf("b/c = %q", got)
	}
}

func TestMountReaddirDeterministic(t *testing.T) {
	mountpoint, _, _ := testMountFixture(t, map[string]string{
		"zz": "1", "aa": "2", "mm": "3",
	})

	for round := 0; round < 3; round++ {
		entries, err := os.ReadDir(mountpoint)
		if err != nil {
			t.Fatalf("ReadDir: %v", err)
		}
		want := []string{"aa", "mm", "zz"}
		if len(entries) != len(want) {
			t.Fatalf("got %d entries, want %d", len(entries), len(want))
		}
		for i, entry := range entries {
			if entry.Name() != want[i] {
				t.Errorf("round %d: entry %d = %q, want %q", round, i, entry.Name(), want[i])
			}
		}
	}
}

func TestMountSymlink(t *testing.T) {
	mountpoint, _, _ := testMountFixture(t, map[string]string{
		"a":    "data",
		"link": "->a",
	})

	target, err := os.Readlink(filepath.Join(mountpoint, "link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "a" {
		t.Errorf("target = %q, want %q", target, "a")
	}
}

func TestMountRejectsWrites(t *testing.T) {
	mountpoint, _, _ := testMountFixture(t, map[string]string{"a": "read only"})

	_, err := os.OpenFile(filepath.Join(mountpoint, "a"), os.O_WRONLY, 0)
	if err == nil {
		t.Fatal("open for write succeeded on a read-only mount")
	}

	if err := os.Mkdir(filepath.Join(mountpoint, "new"), 0o755); err == nil {
		t.Error("mkdir succeeded on a read-only mount")
	}
	if err := os.Remove(filepath.Join(mountpoint, "a")); err == nil {
		t.Error("remove succeeded on a read-only mount")
	}
}

func TestMountStatMatchesInode(t *testing.T) {
	mountpoint, _, flStore := testMountFixture(t, map[string]string{"a": "0123456789"})

	var stat syscall.Stat_t
	if err := syscall.Stat(filepath.Join(mountpoint, "a"), &stat); err != nil {
		t.Fatalf("stat: %v", err)
	}

	row, err := flStore.Lookup(context.Background(), meta.RootIno, "a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if uint64(stat.Size) != row.Size {
		t.Errorf("size = %d, want %d", stat.Size, row.Size)
	}
	if stat.Mode != uint32(row.Mode) {
		t.Errorf("mode = %o, want %o", stat.Mode, uint32(row.Mode))
	}
	if stat.Mtim.Sec != row.Mtime {
		t.Errorf("mtime = %d, want %d", stat.Mtim.Sec, row.Mtime)
	}
}

func TestMountPartialReadAcrossBlockBoundary(t *testing.T) {
	// Three blocks at 64 KiB, last one short.
	payload := make([]byte, 2*testBlockSize+1003)
	for i := range payload {
		payload[i] = byte(i * 13)
	}
	mountpoint, _, _ := testMountFixture(t, map[string]string{"big": string(payload)})

	file, err := os.Open(filepath.Join(mountpoint, "big"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	// Straddle the first/second block boundary.
	straddle := int64(testBlockSize - 8)
	buffer := make([]byte, 32)
	n, err := file.ReadAt(buffer, straddle)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(buffer) {
		t.Fatalf("short read: %d", n)
	}
	if !bytes.Equal(buffer, payload[straddle:straddle+32]) {
		t.Error("straddling read returned wrong bytes")
	}

	// Tail read into the short final block.
	tailOffset := int64(len(payload) - 11)
	buffer = make([]byte, 64)
	n, err = file.ReadAt(buffer, tailOffset)
	if n != 11 {
		t.Fatalf("tail read returned %d bytes (err %v), want 11", n, err)
	}
	if !bytes.Equal(buffer[:n], payload[tailOffset:]) {
		t.Error("tail read returned wrong bytes")
	}
}

func TestMountTamperedBlockReturnsEIO(t *testing.T) {
	payload := make([]byte, testBlockSize/2)
	for i := range payload {
		payload[i] = byte(i)
	}
	mountpoint, backend, flStore := testMountFixture(t, map[string]string{
		"damaged": string(payload),
		"intact":  "still fine",
	})

	// Truncate the damaged file's stored object to zero bytes.
	row, err := flStore.Lookup(context.Background(), meta.RootIno, "damaged")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	blocks, err := flStore.Blocks(context.Background(), row.Ino)
	if err != nil {
		t.Fatalf("Blocks: %v", err)
	}
	backend.Corrupt(blocks[0].ID)

	if _, err := os.ReadFile(filepath.Join(mountpoint, "damaged")); err == nil {
		t.Error("reading a tampered file succeeded")
	}

	// Other files remain readable.
	got, err := os.ReadFile(filepath.Join(mountpoint, "intact"))
	if err != nil {
		t.Fatalf("reading intact file: %v", err)
	}
	if string(got) != "still fine" {
		t.Errorf("intact = %q", got)
	}
}

func TestMountServesFromCacheAfterStoreLoss(t *testing.T) {
	mountpoint, backend, _ := testMountFixture(t, map[string]string{"a": "cache me"})

	// Warm the chunk cache.
	if _, err := os.ReadFile(filepath.Join(mountpoint, "a")); err != nil {
		t.Fatalf("warming read: %v", err)
	}

	backend.Clear()

	// The kernel page cache could also satisfy this, but either
	// way the mount must keep working without the backend.
	got, err := os.ReadFile(filepath.Join(mountpoint, "a"))
	if err != nil {
		t.Fatalf("read after store loss: %v", err)
	}
	if string(got) != "cache me" {
		t.Errorf("a = %q", got)
	}
}
