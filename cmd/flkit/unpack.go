// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/flkit/flkit/cmd/flkit/cli"
	"github.com/flkit/flkit/lib/fl"
	"github.com/flkit/flkit/lib/meta"
)

func unpackCommand() *cli.Command {
	var (
		flPath   string
		debug    bool
		cacheDir string
		preserve bool
		workers  int
		extra    []string
	)

	return &cli.Command{
		Name:    "unpack",
		Summary: "Materialize an FL into a directory tree",
		Usage:   "flkit unpack -m <fl> [flags] <target>",
		Description: `Recreate the packed tree under the target directory: regular
files stream down through the chunk cache, symlinks and device nodes
are recreated, permissions and modification times are restored.
Ownership is restored only with --preserve-ownership (usually needs
root).`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("unpack", pflag.ContinueOnError)
			addCommonFlags(flagSet, &flPath, &debug)
			flagSet.StringVar(&cacheDir, "cache", "", "chunk cache directory")
			flagSet.BoolVarP(&preserve, "preserve-ownership", "p", false, "restore uid/gid on unpacked entries")
			flagSet.IntVar(&workers, "workers", 0, "concurrent file downloads")
			flagSet.StringArrayVarP(&extra, "store", "s", nil, "additional store URL to read from (repeatable)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("unpack takes exactly one target directory")
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

			fetcher, closePool, err := openReadFabric(ctx, flStore, extra, cacheDir, 0, logger)
			if err != nil {
				return err
			}
			defer closePool()

			return fl.Unpack(ctx, fl.UnpackOptions{
				FL:                flStore,
				Fetcher:           fetcher,
				Target:            args[0],
				PreserveOwnership: preserve,
				Workers:           workers,
				Logger:            logger,
			})
		},
	}
}
