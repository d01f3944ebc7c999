// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/flkit/flkit/lib/blob"
)

// zdbDefaultPort is the conventional listen port of the append-only
// keyed log service.
const zdbDefaultPort = "9900"

// ZdbStore talks to an append-only keyed log over the RESP wire
// protocol:
//
//	zdb://[password@]<host>[:port][/namespace]
//
// Every pooled connection switches to the namespace (authenticating
// with the password when one is given) before first use. The server
// deduplicates: setting an id that already exists in the namespace
// is a no-op on its side.
type ZdbStore struct {
	client *redis.Client
	rawURL string
}

// NewZdbStore connects to the log service named by the URL and
// verifies reachability with a ping.
func NewZdbStore(ctx context.Context, rawURL string) (*ZdbStore, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("zdb store URL %q: %v", rawURL, err)}
	}
	if parsed.Host == "" {
		return nil, &ConfigError{Reason: fmt.Sprintf("zdb store URL %q: missing host", rawURL)}
	}

	address := parsed.Host
	if parsed.Port() == "" {
		address = parsed.Hostname() + ":" + zdbDefaultPort
	}

	namespace := strings.Trim(parsed.Path, "/")

	// The password rides in the userinfo. A username alone (no
	// colon) is also treated as the namespace password, matching
	// the published URL form zdb://password@host/ns.
	var password string
	if parsed.User != nil {
		if secret, ok := parsed.User.Password(); ok {
			password = secret
		} else {
			password = parsed.User.Username()
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     address,
		PoolSize: 20,
		OnConnect: func(ctx context.Context, conn *redis.Conn) error {
			if namespace == "" || namespace == "default" {
				return nil
			}
			args := []interface{}{"SELECT", namespace}
			if password != "" {
				args = append(args, password)
			}
			if err := conn.Process(ctx, redis.NewCmd(ctx, args...)); err != nil {
				return fmt.Errorf("selecting namespace %s: %w", namespace, err)
			}
			return nil
		},
	})

	store := &ZdbStore{client: client, rawURL: rawURL}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, &TransportError{URL: rawURL, Err: fmt.Errorf("ping: %w", err)}
	}

	return store, nil
}

func (s *ZdbStore) Get(ctx context.Context, id blob.Hash) ([]byte, error) {
	data, err := s.client.Get(ctx, string(id[:])).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &TransportError{URL: s.rawURL, Err: err}
	}
	if len(data) == 0 {
		// The log never stores empty payloads; an empty answer
		// means the key is effectively absent.
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *ZdbStore) Set(ctx context.Context, id blob.Hash, data []byte) error {
	err := s.client.Set(ctx, string(id[:]), data, 0).Err()
	if err == nil {
		return nil
	}
	// An append-only namespace refuses overwrites of existing keys.
	// The payload under a given id is immutable by construction, so
	// "already exists" is success.
	if strings.Contains(strings.ToLower(err.Error()), "exists") {
		return nil
	}
	return &TransportError{URL: s.rawURL, Err: err}
}

// Close releases the connection pool.
func (s *ZdbStore) Close() error {
	return s.client.Close()
}

func (s *ZdbStore) Routes() []Route {
	return []Route{{Start: 0x00, End: 0xff, URL: s.rawURL}}
}
