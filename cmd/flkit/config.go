// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/flkit/flkit/cmd/flkit/cli"
	"github.com/flkit/flkit/lib/meta"
	"github.com/flkit/flkit/lib/store"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:    "config",
		Summary: "Edit an FL's tag and route tables offline",
		Description: `Inspect and edit the metadata of an existing FL: the free-form
tag table and the route table that names its stores. Edits have no
effect on any running mount of the same FL.`,
		Subcommands: []*cli.Command{
			configTagCommand(),
			configStoreCommand(),
		},
	}
}

func configTagCommand() *cli.Command {
	var (
		flPath string
		debug  bool
	)

	flags := func(name string) func() *pflag.FlagSet {
		return func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			addCommonFlags(flagSet, &flPath, &debug)
			return flagSet
		}
	}

	return &cli.Command{
		Name:    "tag",
		Summary: "List, add, or delete tags",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Summary: "Print all tags",
				Usage:   "flkit config tag list -m <fl>",
				Flags:   flags("tag-list"),
				Run: func(args []string) error {
					return withFL(flPath, false, func(ctx context.Context, flStore *meta.Store) error {
						tags, err := flStore.Tags(ctx)
						if err != nil {
							return err
						}
						keys := make([]string, 0, len(tags))
						for key := range tags {
							keys = append(keys, key)
						}
						sort.Strings(keys)

						tabWriter := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
						for _, key := range keys {
							fmt.Fprintf(tabWriter, "%s\t%s\n", key, tags[key])
						}
						return tabWriter.Flush()
					})
				},
			},
			{
				Name:    "add",
				Summary: "Set key=value tags",
				Usage:   "flkit config tag add -m <fl> <key>=<value>...",
				Flags:   flags("tag-add"),
				Run: func(args []string) error {
					if len(args) == 0 {
						return fmt.Errorf("tag add takes key=value arguments")
					}
					return withFL(flPath, true, func(ctx context.Context, flStore *meta.Store) error {
						for _, arg := range args {
							key, value, found := strings.Cut(arg, "=")
							if !found || key == "" {
								return fmt.Errorf("tag %q is not key=value", arg)
							}
							if err := flStore.SetTag(ctx, key, value); err != nil {
								return err
							}
						}
						return nil
					})
				},
			},
			{
				Name:    "delete",
				Summary: "Delete tags by key",
				Usage:   "flkit config tag delete -m <fl> <key>...",
				Flags:   flags("tag-delete"),
				Run: func(args []string) error {
					if len(args) == 0 {
						return fmt.Errorf("tag delete takes key arguments")
					}
					return withFL(flPath, true, func(ctx context.Context, flStore *meta.Store) error {
						for _, key := range args {
							if err := flStore.DeleteTag(ctx, key); err != nil {
								return err
							}
						}
						return nil
					})
				},
			},
		},
	}
}

func configStoreCommand() *cli.Command {
	var (
		flPath string
		debug  bool
	)

	flags := func(name string) func() *pflag.FlagSet {
		return func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			addCommonFlags(flagSet, &flPath, &debug)
			return flagSet
		}
	}

	return &cli.Command{
		Name:    "store",
		Summary: "List, add, or replace route table entries",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Summary: "Print the route table",
				Usage:   "flkit config store list -m <fl>",
				Flags:   flags("store-list"),
				Run: func(args []string) error {
					return withFL(flPath, false, func(ctx context.Context, flStore *meta.Store) error {
						routes, err := flStore.Routes(ctx)
						if err != nil {
							return err
						}
						tabWriter := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
						for _, route := range routes {
							fmt.Fprintf(tabWriter, "%02x-%02x\t%s\n", route.Start, route.End, route.URL)
						}
						return tabWriter.Flush()
					})
				},
			},
			{
				Name:    "add",
				Summary: "Append store URLs to the route table",
				Usage:   "flkit config store add -m <fl> <store-url>...",
				Flags:   flags("store-add"),
				Run: func(args []string) error {
					if len(args) == 0 {
						return fmt.Errorf("store add takes store URL arguments")
					}
					return withFL(flPath, true, func(ctx context.Context, flStore *meta.Store) error {
						return addRoutes(ctx, flStore, args)
					})
				},
			},
			{
				Name:    "delete",
				Summary: "Clear the route table (optionally replacing it)",
				Usage:   "flkit config store delete -m <fl> [replacement-store-url...]",
				Flags:   flags("store-delete"),
				Run: func(args []string) error {
					return withFL(flPath, true, func(ctx context.Context, flStore *meta.Store) error {
						if err := flStore.DeleteRoutes(ctx); err != nil {
							return err
						}
						return addRoutes(ctx, flStore, args)
					})
				},
			},
		},
	}
}

// addRoutes validates each spec against the URL grammar before
// touching the route table, so a typo cannot leave a half-edited FL.
func addRoutes(ctx context.Context, flStore *meta.Store, specs []string) error {
	parsed := make([]store.RouteSpec, 0, len(specs))
	for _, rawSpec := range specs {
		spec, err := store.ParseRouteSpec(rawSpec)
		if err != nil {
			return err
		}
		if err := store.ValidateURL(spec.URL); err != nil {
			return err
		}
		parsed = append(parsed, spec)
	}
	for _, spec := range parsed {
		err := flStore.AddRoute(ctx, meta.Route{Start: spec.Start, End: spec.End, URL: spec.URL})
		if err != nil {
			return err
		}
	}
	return nil
}

// withFL opens the FL (writable or read-only), runs the operation,
// and closes it.
func withFL(flPath string, writable bool, run func(context.Context, *meta.Store) error) error {
	if flPath == "" {
		return fmt.Errorf("--meta is required")
	}

	ctx := context.Background()

	var (
		flStore *meta.Store
		err     error
	)
	if writable {
		flStore, err = meta.OpenWritable(ctx, flPath, nil)
	} else {
		flStore, err = meta.Open(ctx, flPath, nil)
	}
	if err != nil {
		return err
	}
	defer flStore.Close()

	return run(ctx, flStore)
}
