// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/flkit/flkit/lib/blob"
)

func TestDirStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}

	ctx := context.Background()
	id := blob.Sum([]byte("object"))
	payload := []byte("ciphertext bytes")

	if err := backend.Set(ctx, id, payload); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// The object lands at the sharded path.
	objectPath := filepath.Join(dir, filepath.FromSlash(blob.ObjectPath(id)))
	if _, err := os.Stat(objectPath); err != nil {
		t.Errorf("object not at sharded path: %v", err)
	}

	data, err := backend.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("payload mismatch")
	}
}

func TestDirStoreGetMissing(t *testing.T) {
	backend, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}

	_, err = backend.Get(context.Background(), blob.Sum([]byte("absent")))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDirStoreSetIdempotent(t *testing.T) {
	backend, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}

	ctx := context.Background()
	id := blob.Sum([]byte("twice"))
	for i := 0; i < 2; i++ {
		if err := backend.Set(ctx, id, []byte("same")); err != nil {
			t.Fatalf("Set %d failed: %v", i, err)
		}
	}

	data, err := backend.Get(ctx, id)
	if err != nil || string(data) != "same" {
		t.Errorf("Get after double set: %q, %v", data, err)
	}
}

func TestDirStoreNoPartialObjects(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}

	id := blob.Sum([]byte("atomic"))
	if err := backend.Set(context.Background(), id, []byte("payload")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// No leftover temp files anywhere under the root.
	err = filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".tmp" {
			t.Errorf("leftover temp file %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
}
