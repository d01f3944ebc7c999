// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/flkit/flkit/lib/blob"
)

// S3Store keeps blocks as objects in a single bucket of an
// S3-compatible service. The URL carries everything:
//
//	s3://<access>:<secret>@<host>[:port]/<bucket>[?region=<region>]
//
// The plain s3 scheme speaks HTTP; s3+tls (or the shorthand s3s)
// speaks HTTPS.
type S3Store struct {
	client *minio.Client
	bucket string
	rawURL string
}

// NewS3Store connects to the service named by the URL and ensures the
// bucket exists (creating it is allowed to fail when the credentials
// only grant object access — existence is what matters).
func NewS3Store(ctx context.Context, rawURL string) (*S3Store, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("s3 store URL %q: %v", rawURL, err)}
	}

	bucket := strings.Trim(parsed.Path, "/")
	if bucket == "" || strings.Contains(bucket, "/") {
		return nil, &ConfigError{Reason: fmt.Sprintf("s3 store URL %q: path must name exactly one bucket", rawURL)}
	}
	if parsed.User == nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("s3 store URL %q: missing access key credentials", rawURL)}
	}
	secretKey, _ := parsed.User.Password()

	secure := parsed.Scheme == "s3+tls" || parsed.Scheme == "s3s"

	client, err := minio.New(parsed.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(parsed.User.Username(), secretKey, ""),
		Secure: secure,
		Region: parsed.Query().Get("region"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client for %s: %w", parsed.Host, err)
	}

	store := &S3Store{client: client, bucket: bucket, rawURL: rawURL}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: fmt.Errorf("checking bucket %s: %w", bucket, err)}
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, &TransportError{URL: rawURL, Err: fmt.Errorf("creating bucket %s: %w", bucket, err)}
		}
	}

	return store, nil
}

func (s *S3Store) Get(ctx context.Context, id blob.Hash) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, blob.ObjectPath(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, &TransportError{URL: s.rawURL, Err: err}
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, &TransportError{URL: s.rawURL, Err: err}
	}
	return data, nil
}

func (s *S3Store) Set(ctx context.Context, id blob.Hash, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, blob.ObjectPath(id),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return &TransportError{URL: s.rawURL, Err: err}
	}
	return nil
}

func (s *S3Store) Routes() []Route {
	return []Route{{Start: 0x00, End: 0xff, URL: s.rawURL}}
}
