// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/flkit/flkit/lib/blob"
	"github.com/flkit/flkit/lib/store"
	"github.com/flkit/flkit/lib/store/storetest"
)

// idWithPrefix fabricates a hash whose first byte is fixed, for
// steering blocks at specific router ranges.
func idWithPrefix(prefix byte, seed int) blob.Hash {
	id := blob.Sum([]byte(fmt.Sprintf("seed-%d", seed)))
	id[0] = prefix
	return id
}

func TestRouterReplicatesWrites(t *testing.T) {
	first := storetest.NewMemory()
	second := storetest.NewMemory()

	router := store.NewRouter(nil)
	router.Add(0x00, 0xff, first)
	router.Add(0x00, 0xff, second)

	id := idWithPrefix(0x42, 1)
	if err := router.Set(context.Background(), id, []byte("ciphertext")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if first.Len() != 1 || second.Len() != 1 {
		t.Errorf("replication: store sizes %d and %d, want 1 and 1", first.Len(), second.Len())
	}
}

func TestRouterReadFallbackAfterDataLoss(t *testing.T) {
	first := storetest.NewMemory()
	second := storetest.NewMemory()

	router := store.NewRouter(nil)
	router.Add(0x00, 0xff, first)
	router.Add(0x00, 0xff, second)

	ctx := context.Background()
	id := idWithPrefix(0x10, 2)
	payload := []byte("survives replica loss")

	if err := router.Set(ctx, id, payload); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Wipe one replica entirely; reads must fall through to the other.
	first.Clear()

	for attempt := 0; attempt < 16; attempt++ {
		data, err := router.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get after data loss failed: %v", err)
		}
		if string(data) != string(payload) {
			t.Fatalf("Get returned wrong payload")
		}
	}
}

func TestRouterSharding(t *testing.T) {
	low := storetest.NewMemory()
	high := storetest.NewMemory()

	router := store.NewRouter(nil)
	router.Add(0x00, 0x7f, low)
	router.Add(0x80, 0xff, high)

	ctx := context.Background()

	lowID := idWithPrefix(0x10, 3)
	highID := idWithPrefix(0x90, 4)

	if err := router.Set(ctx, lowID, []byte("low")); err != nil {
		t.Fatalf("Set low failed: %v", err)
	}
	if err := router.Set(ctx, highID, []byte("high")); err != nil {
		t.Fatalf("Set high failed: %v", err)
	}

	if low.Len() != 1 || high.Len() != 1 {
		t.Fatalf("sharding: store sizes %d and %d, want 1 and 1", low.Len(), high.Len())
	}

	// Both reads resolve through the router regardless of shard.
	if _, err := router.Get(ctx, lowID); err != nil {
		t.Errorf("Get low shard: %v", err)
	}
	if _, err := router.Get(ctx, highID); err != nil {
		t.Errorf("Get high shard: %v", err)
	}
}

func TestRouterBlockMissing(t *testing.T) {
	router := store.NewRouter(nil)
	router.Add(0x00, 0xff, storetest.NewMemory())

	_, err := router.Get(context.Background(), idWithPrefix(0x01, 5))

	var missing *store.BlockMissingError
	if !errors.As(err, &missing) {
		t.Errorf("got %T (%v), want *BlockMissingError", err, err)
	}
}

func TestRouterFetchFailedOnTransportErrors(t *testing.T) {
	broken := storetest.NewMemory()
	broken.FailGets = &store.TransportError{URL: "mem://", Err: errors.New("connection refused")}

	router := store.NewRouter(nil)
	router.Add(0x00, 0xff, broken)

	_, err := router.Get(context.Background(), idWithPrefix(0x01, 6))

	var failed *store.FetchFailedError
	if !errors.As(err, &failed) {
		t.Errorf("got %T (%v), want *FetchFailedError", err, err)
	}
}

func TestRouterUncoveredPrefix(t *testing.T) {
	router := store.NewRouter(nil)
	router.Add(0x00, 0x7f, storetest.NewMemory())

	_, err := router.Get(context.Background(), idWithPrefix(0x80, 7))
	var configErr *store.ConfigError
	if !errors.As(err, &configErr) {
		t.Errorf("Get: got %T, want *ConfigError", err)
	}

	err = router.Set(context.Background(), idWithPrefix(0x80, 8), []byte("x"))
	if !errors.As(err, &configErr) {
		t.Errorf("Set: got %T, want *ConfigError", err)
	}
}

func TestRouterSetRequiresWritableStore(t *testing.T) {
	readOnly := storetest.NewMemory()
	readOnly.ReadOnly = true

	router := store.NewRouter(nil)
	router.Add(0x00, 0xff, readOnly)

	err := router.Set(context.Background(), idWithPrefix(0x01, 9), []byte("x"))
	var configErr *store.ConfigError
	if !errors.As(err, &configErr) {
		t.Errorf("got %T (%v), want *ConfigError", err, err)
	}
}

func TestRouterSetIdempotent(t *testing.T) {
	backend := storetest.NewMemory()
	router := store.NewRouter(nil)
	router.Add(0x00, 0xff, backend)

	ctx := context.Background()
	id := idWithPrefix(0x33, 10)

	for i := 0; i < 3; i++ {
		if err := router.Set(ctx, id, []byte("same bytes")); err != nil {
			t.Fatalf("Set %d failed: %v", i, err)
		}
	}
	if backend.Len() != 1 {
		t.Errorf("idempotency: %d objects, want 1", backend.Len())
	}
}

func TestRouterRoutesClampsRanges(t *testing.T) {
	backend := storetest.NewMemory()
	backend.URL = "dir:///tmp/shard"

	router := store.NewRouter(nil)
	router.Add(0x40, 0x7f, backend)

	routes := router.Routes()
	if len(routes) != 1 {
		t.Fatalf("got %d routes, want 1", len(routes))
	}
	if routes[0].Start != 0x40 || routes[0].End != 0x7f {
		t.Errorf("range %02x-%02x, want 40-7f", routes[0].Start, routes[0].End)
	}
	if routes[0].URL != "dir:///tmp/shard" {
		t.Errorf("URL %q", routes[0].URL)
	}
}
