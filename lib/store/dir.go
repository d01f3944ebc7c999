// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flkit/flkit/lib/blob"
)

// DirStore keeps blocks as plain files under a local directory,
// sharded by the first two hex characters of the id. Mainly used for
// local hubs and tests.
type DirStore struct {
	root string
}

// NewDirStore creates (if needed) and opens a directory store rooted
// at the given path.
func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		return nil, &ConfigError{Reason: "dir store requires a path"}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", root, err)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) Get(_ context.Context, id blob.Hash) ([]byte, error) {
	data, err := os.ReadFile(s.objectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &TransportError{URL: s.urlString(), Err: err}
	}
	return data, nil
}

// Set writes through a temp file and renames into place, so a
// concurrent reader never observes a partial object. Re-writing an
// existing id replaces it with identical bytes, which satisfies
// idempotency.
func (s *DirStore) Set(_ context.Context, id blob.Hash, data []byte) error {
	finalPath := s.objectPath(id)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return &TransportError{URL: s.urlString(), Err: err}
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(finalPath), ".set-*.tmp")
	if err != nil {
		return &TransportError{URL: s.urlString(), Err: err}
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return &TransportError{URL: s.urlString(), Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return &TransportError{URL: s.urlString(), Err: err}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return &TransportError{URL: s.urlString(), Err: err}
	}
	return nil
}

func (s *DirStore) Routes() []Route {
	return []Route{{Start: 0x00, End: 0xff, URL: s.urlString()}}
}

func (s *DirStore) objectPath(id blob.Hash) string {
	return filepath.Join(s.root, filepath.FromSlash(blob.ObjectPath(id)))
}

func (s *DirStore) urlString() string {
	return "dir://" + s.root
}
