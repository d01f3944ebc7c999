// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// RouteSpec is a parsed store URL with its optional prefix-range
// override: "00-7f=dir:///tmp/s1". Without an override the range is
// the full 00-ff.
type RouteSpec struct {
	Start byte
	End   byte
	URL   string
}

// ParseRouteSpec parses the range-prefixed store URL grammar. The
// bounds are one or two hex digits each; start must not exceed end.
func ParseRouteSpec(spec string) (RouteSpec, error) {
	parsed := RouteSpec{Start: 0x00, End: 0xff, URL: spec}

	// A range override is "<hex>-<hex>=" before the scheme. The "="
	// disambiguates from URLs that contain dashes.
	equals := strings.Index(spec, "=")
	dash := strings.Index(spec, "-")
	if equals < 0 || dash < 0 || dash > equals || strings.Contains(spec[:equals], "://") {
		return parsed, nil
	}

	start, err := parseRangeBound(spec[:dash])
	if err != nil {
		return RouteSpec{}, &ConfigError{Reason: fmt.Sprintf("route %q: bad start bound: %v", spec, err)}
	}
	end, err := parseRangeBound(spec[dash+1 : equals])
	if err != nil {
		return RouteSpec{}, &ConfigError{Reason: fmt.Sprintf("route %q: bad end bound: %v", spec, err)}
	}
	if start > end {
		return RouteSpec{}, &ConfigError{Reason: fmt.Sprintf("route %q: start %02x exceeds end %02x", spec, start, end)}
	}

	parsed.Start = byte(start)
	parsed.End = byte(end)
	parsed.URL = spec[equals+1:]
	return parsed, nil
}

func parseRangeBound(bound string) (uint64, error) {
	if len(bound) == 0 || len(bound) > 2 {
		return 0, fmt.Errorf("%q is not 1 or 2 hex digits", bound)
	}
	return strconv.ParseUint(bound, 16, 8)
}

// FromURL instantiates the backend named by a store URL, honoring an
// optional range prefix. The returned ranges clamp the store's own
// declared routes.
func FromURL(ctx context.Context, rawURL string) (Store, error) {
	spec, err := ParseRouteSpec(rawURL)
	if err != nil {
		return nil, err
	}

	parsed, err := url.Parse(spec.URL)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("store URL %q: %v", spec.URL, err)}
	}

	var backend Store
	switch parsed.Scheme {
	case "dir":
		backend, err = NewDirStore(parsed.Path)
	case "http", "https":
		backend, err = NewHTTPStore(spec.URL)
	case "s3", "s3+tls", "s3s":
		backend, err = NewS3Store(ctx, spec.URL)
	case "zdb":
		backend, err = NewZdbStore(ctx, spec.URL)
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unknown store scheme %q", parsed.Scheme)}
	}
	if err != nil {
		return nil, err
	}

	if spec.Start == 0x00 && spec.End == 0xff {
		return backend, nil
	}
	return &rangedStore{Store: backend, start: spec.Start, end: spec.End}, nil
}

// rangedStore narrows a backend's declared routes to an explicit
// range from the URL grammar. Get/Set pass through unchanged — range
// enforcement is the router's job.
type rangedStore struct {
	Store
	start byte
	end   byte
}

func (r *rangedStore) Routes() []Route {
	var clamped []Route
	for _, route := range r.Store.Routes() {
		start, end := route.Start, route.End
		if start < r.start {
			start = r.start
		}
		if end > r.end {
			end = r.end
		}
		if start > end {
			continue
		}
		clamped = append(clamped, Route{Start: start, End: end, URL: route.URL})
	}
	return clamped
}

// ValidateURL checks that a store URL parses and names a known
// scheme, without connecting to anything. Config edits use it so a
// bad URL is rejected before the route table is touched.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("store URL %q: %v", rawURL, err)}
	}
	switch parsed.Scheme {
	case "dir", "http", "https", "s3", "s3+tls", "s3s", "zdb":
		return nil
	default:
		return &ConfigError{Reason: fmt.Sprintf("unknown store scheme %q", parsed.Scheme)}
	}
}

// StripPassword removes the password component of a URL's userinfo.
// Applied to route URLs before they are written into an FL unless the
// operator explicitly asks to keep them — publishing hygiene, not a
// security boundary (backends still enforce their own authorization).
func StripPassword(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", &ConfigError{Reason: fmt.Sprintf("store URL %q: %v", rawURL, err)}
	}
	if parsed.User == nil {
		return rawURL, nil
	}
	if _, hasPassword := parsed.User.Password(); !hasPassword {
		return rawURL, nil
	}
	if username := parsed.User.Username(); username != "" {
		parsed.User = url.User(username)
	} else {
		parsed.User = nil
	}
	return parsed.String(), nil
}
