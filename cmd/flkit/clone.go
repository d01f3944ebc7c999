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
	"github.com/flkit/flkit/lib/store"
)

func cloneCommand() *cli.Command {
	var (
		flPath     string
		debug      bool
		storeSpecs []string
		workers    int
	)

	return &cli.Command{
		Name:    "clone",
		Summary: "Copy an FL's blocks to a new store set",
		Usage:   "flkit clone -m <fl> -s <store-url>... [flags]",
		Description: `Copy every block referenced by the FL from its current route set
to the given destination stores, as opaque ciphertext. Afterwards,
point the FL at the new stores with 'flkit config store'.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("clone", pflag.ContinueOnError)
			addCommonFlags(flagSet, &flPath, &debug)
			flagSet.StringArrayVarP(&storeSpecs, "store", "s", nil, "destination store URL (repeatable)")
			flagSet.IntVar(&workers, "workers", 0, "concurrent block copies")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("clone takes no positional arguments")
			}
			if flPath == "" {
				return fmt.Errorf("--meta is required")
			}
			if len(storeSpecs) == 0 {
				return fmt.Errorf("at least one destination --store is required")
			}

			logger := newLogger(debug)
			ctx := context.Background()

			flStore, err := meta.Open(ctx, flPath, logger)
			if err != nil {
				return err
			}
			defer flStore.Close()

			routes, err := flStore.Routes(ctx)
			if err != nil {
				return err
			}
			sourceRoutes := make([]store.Route, 0, len(routes))
			for _, route := range routes {
				sourceRoutes = append(sourceRoutes, store.Route{Start: route.Start, End: route.End, URL: route.URL})
			}
			source, err := store.RouterFromMeta(ctx, sourceRoutes, logger)
			if err != nil {
				return err
			}

			destination, err := store.RouterFromSpecs(ctx, storeSpecs, logger)
			if err != nil {
				return err
			}

			return fl.Clone(ctx, fl.CloneOptions{
				FL:          flStore,
				Source:      source,
				Destination: destination,
				Workers:     workers,
				Logger:      logger,
			})
		},
	}
}
