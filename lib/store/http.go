// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/flkit/flkit/lib/blob"
)

// HTTPStore serves blocks over plain HTTP GET. It is always
// read-only: hubs publish blocks over HTTP, they do not accept
// uploads that way.
type HTTPStore struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPStore opens a read-only store at the given base URL.
func NewHTTPStore(rawURL string) (*HTTPStore, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("http store URL %q: %v", rawURL, err)}
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, &ConfigError{Reason: fmt.Sprintf("http store URL %q: scheme must be http or https", rawURL)}
	}

	return &HTTPStore{
		base: base,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

// Get fetches <base>/<first-two-hex>/<rest-hex>, falling back to the
// flat legacy layout <base>/<hex> when the sharded path answers 404.
func (s *HTTPStore) Get(ctx context.Context, id blob.Hash) ([]byte, error) {
	data, err := s.fetch(ctx, blob.ObjectPath(id))
	if err == ErrNotFound {
		return s.fetch(ctx, blob.FormatHash(id))
	}
	return data, err
}

func (s *HTTPStore) fetch(ctx context.Context, objectPath string) ([]byte, error) {
	target := s.base.JoinPath(objectPath)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &TransportError{URL: s.base.String(), Err: err}
	}

	response, err := s.client.Do(request)
	if err != nil {
		return nil, &TransportError{URL: s.base.String(), Err: err}
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case response.StatusCode < 200 || response.StatusCode > 299:
		return nil, &TransportError{
			URL: s.base.String(),
			Err: fmt.Errorf("GET %s: unexpected status %s", target, response.Status),
		}
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &TransportError{URL: s.base.String(), Err: err}
	}
	return data, nil
}

func (s *HTTPStore) Set(context.Context, blob.Hash, []byte) error {
	return ErrReadOnly
}

func (s *HTTPStore) Routes() []Route {
	return []Route{{Start: 0x00, End: 0xff, URL: s.base.String()}}
}
