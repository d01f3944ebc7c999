// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/flkit/flkit/cmd/flkit/cli"
	"github.com/flkit/flkit/lib/cache"
	"github.com/flkit/flkit/lib/meta"
	"github.com/flkit/flkit/lib/mount"
	"github.com/flkit/flkit/lib/store"
)

// defaultCacheDir is where decrypted blocks are memoized when the
// user does not pick a cache location.
func defaultCacheDir() string {
	if cacheHome, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cacheHome, "flkit", "blocks")
	}
	return filepath.Join(os.TempDir(), "flkit-cache")
}

// openReadFabric builds the router (FL route table plus any extra
// stores), chunk cache, pool, and fetcher shared by mount and
// unpack.
func openReadFabric(ctx context.Context, flStore *meta.Store, extraStores []string, cacheDir string, workers int, logger *slog.Logger) (*cache.Fetcher, func(), error) {
	routes, err := flStore.Routes(ctx)
	if err != nil {
		return nil, nil, err
	}

	storeRoutes := make([]store.Route, 0, len(routes))
	for _, route := range routes {
		storeRoutes = append(storeRoutes, store.Route{Start: route.Start, End: route.End, URL: route.URL})
	}

	router, err := store.RouterFromMeta(ctx, storeRoutes, logger)
	if err != nil {
		return nil, nil, err
	}
	for _, rawSpec := range extraStores {
		spec, err := store.ParseRouteSpec(rawSpec)
		if err != nil {
			return nil, nil, err
		}
		backend, err := store.FromURL(ctx, rawSpec)
		if err != nil {
			return nil, nil, err
		}
		router.Add(spec.Start, spec.End, backend)
	}

	if cacheDir == "" {
		cacheDir = defaultCacheDir()
	}
	blockCache, err := cache.New(cacheDir, logger)
	if err != nil {
		return nil, nil, err
	}

	pool := cache.NewPool(workers)
	fetcher := cache.NewFetcher(router, blockCache, pool, logger)
	return fetcher, pool.Close, nil
}

func mountCommand() *cli.Command {
	var (
		flPath     string
		debug      bool
		cacheDir   string
		allowOther bool
		workers    int
		extra      []string
	)

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount an FL as a read-only filesystem",
		Usage:   "flkit mount -m <fl> [flags] <mountpoint>",
		Description: `Mount an FL at the given mountpoint. File contents stream in
lazily from the FL's stores on first read and are memoized in the
local chunk cache. The mount is strictly read-only.

Blocks are fetched by a worker pool (20 workers by default), so
large reads over cold files fan out across the configured stores.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			addCommonFlags(flagSet, &flPath, &debug)
			flagSet.StringVar(&cacheDir, "cache", "", "chunk cache directory")
			flagSet.BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
			flagSet.IntVar(&workers, "workers", 0, "download pool size")
			flagSet.StringArrayVarP(&extra, "store", "s", nil, "additional store URL to read from (repeatable)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("mount takes exactly one mountpoint")
			}
			if flPath == "" {
				return fmt.Errorf("--meta is required")
			}

			logger := newLogger(debug)
			ctx := context.Background()

			flStore, err := meta.Open(ctx, flPath, logger)
			if err != nil {
				return err
			}
			defer flStore.Close()

			fetcher, closePool, err := openReadFabric(ctx, flStore, extra, cacheDir, workers, logger)
			if err != nil {
				return err
			}
			defer closePool()

			server, err := mount.Mount(ctx, mount.Options{
				Mountpoint: args[0],
				Meta:       flStore,
				Fetcher:    fetcher,
				AllowOther: allowOther,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			// Unmount cleanly on SIGINT/SIGTERM; otherwise serve
			// until the filesystem is unmounted externally.
			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-signals
				logger.Info("unmounting", "mountpoint", args[0])
				server.Unmount()
			}()

			server.Wait()
			return nil
		},
	}
}
