// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flkit/flkit/lib/blob"
)

// setMaxRetries bounds the per-store retry loop on writes. Transient
// transport failures are retried with exponential backoff; anything
// still failing after this many retries (one attempt plus this many
// more) aborts the write.
const setMaxRetries = 3

// Router dispatches block reads and writes across an ordered set of
// prefix-range entries. It is immutable after construction and safe
// for concurrent use.
type Router struct {
	entries []routerEntry
	logger  *slog.Logger
}

type routerEntry struct {
	start byte
	end   byte
	store Store
}

// NewRouter builds an empty router. Entries are added with Add in
// route-table order; that order is preserved for write dispatch and
// route serialization, while reads permute matching entries to
// spread load across replicas.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{logger: logger}
}

// Add appends a range entry.
func (r *Router) Add(start, end byte, backend Store) {
	r.entries = append(r.entries, routerEntry{start: start, end: end, store: backend})
}

// RouterFromMeta builds a router from an FL route table: each row's
// URL is instantiated and bound to the row's range.
func RouterFromMeta(ctx context.Context, routes []Route, logger *slog.Logger) (*Router, error) {
	router := NewRouter(logger)
	for _, route := range routes {
		backend, err := FromURL(ctx, route.URL)
		if err != nil {
			return nil, fmt.Errorf("route %02x-%02x: %w", route.Start, route.End, err)
		}
		router.Add(route.Start, route.End, backend)
	}
	if len(router.entries) == 0 {
		return nil, &ConfigError{Reason: "route table is empty"}
	}
	return router, nil
}

// RouterFromSpecs builds a router from raw store URL specs as given
// on a command line, honoring per-spec range prefixes.
func RouterFromSpecs(ctx context.Context, specs []string, logger *slog.Logger) (*Router, error) {
	router := NewRouter(logger)
	for _, rawSpec := range specs {
		spec, err := ParseRouteSpec(rawSpec)
		if err != nil {
			return nil, err
		}
		backend, err := FromURL(ctx, rawSpec)
		if err != nil {
			return nil, err
		}
		router.Add(spec.Start, spec.End, backend)
	}
	if len(router.entries) == 0 {
		return nil, &ConfigError{Reason: "at least one store is required"}
	}
	return router, nil
}

// match returns the indices of entries covering the given first byte.
func (r *Router) match(firstByte byte) []int {
	var matches []int
	for index, entry := range r.entries {
		if firstByte >= entry.start && firstByte <= entry.end {
			matches = append(matches, index)
		}
	}
	return matches
}

// Get fetches the ciphertext for an id. Matching stores are tried in
// a random permutation; NotFound falls through to the next, transport
// errors are recorded and also fall through. When every store answers
// NotFound the block is reported missing; when at least one transport
// error occurred and nothing succeeded, the fetch is reported failed.
func (r *Router) Get(ctx context.Context, id blob.Hash) ([]byte, error) {
	matches := r.match(id[0])
	if len(matches) == 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("no store covers id prefix %02x", id[0])}
	}

	var transportErrors []error
	for _, index := range rand.Perm(len(matches)) {
		entry := r.entries[matches[index]]

		data, err := entry.store.Get(ctx, id)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		r.logger.Warn("store get failed, trying next replica",
			"id", blob.FormatHash(id),
			"range", fmt.Sprintf("%02x-%02x", entry.start, entry.end),
			"error", err,
		)
		transportErrors = append(transportErrors, err)
	}

	if len(transportErrors) > 0 {
		return nil, &FetchFailedError{ID: id, Errors: transportErrors}
	}
	return nil, &BlockMissingError{ID: id}
}

// Set writes the ciphertext to every matching store concurrently and
// waits for all of them. Transport failures are retried per store
// with bounded exponential backoff. Read-only stores are skipped; a
// configuration with no writable store covering the id is an error.
// The write succeeds only when every writable matching store has
// acknowledged.
func (r *Router) Set(ctx context.Context, id blob.Hash, data []byte) error {
	matches := r.match(id[0])
	if len(matches) == 0 {
		return &ConfigError{Reason: fmt.Sprintf("no store covers id prefix %02x", id[0])}
	}

	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		writable  int
	)

	for _, matchIndex := range matches {
		entry := r.entries[matchIndex]

		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()

			err := r.setWithRetry(ctx, entry, id, data)
			if errors.Is(err, ErrReadOnly) {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			writable++
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}()
	}
	waitGroup.Wait()

	if firstErr != nil {
		return &StorePutError{ID: id, Err: firstErr}
	}
	if writable == 0 {
		return &ConfigError{Reason: fmt.Sprintf("no writable store covers id prefix %02x", id[0])}
	}
	return nil
}

func (r *Router) setWithRetry(ctx context.Context, entry routerEntry, id blob.Hash, data []byte) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(200*time.Millisecond)),
		setMaxRetries,
	), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := entry.store.Set(ctx, id, data)
		if err == nil {
			return nil
		}

		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			r.logger.Warn("store set failed, will retry",
				"id", blob.FormatHash(id),
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		// ErrReadOnly and configuration problems are permanent.
		return backoff.Permanent(err)
	}, policy)
}

// Routes serializes the routing table: each entry's own declared
// routes clamped to the entry's range. This lets a fully constructed
// router serve as the route source for pack and config operations.
func (r *Router) Routes() []Route {
	var routes []Route
	for _, entry := range r.entries {
		for _, sub := range entry.store.Routes() {
			start, end := sub.Start, sub.End
			if start < entry.start {
				start = entry.start
			}
			if end > entry.end {
				end = entry.end
			}
			if start > end {
				continue
			}
			routes = append(routes, Route{Start: start, End: end, URL: sub.URL})
		}
	}
	return routes
}

// Get and Set make *Router satisfy Store, so a router can be used
// anywhere a single backend can — including nested inside another
// router.
var _ Store = (*Router)(nil)
