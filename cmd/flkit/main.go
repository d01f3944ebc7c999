// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

// Command flkit packs directory trees into FL archives, mounts them
// as read-only filesystems, unpacks them, clones their blocks
// between store sets, and edits their tag and route tables.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/flkit/flkit/cmd/flkit/cli"
)

func main() {
	if err := root().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func root() *cli.Command {
	return &cli.Command{
		Name:    "flkit",
		Summary: "Pack, mount, unpack, and clone FL archives",
		Description: `flkit turns directory trees into FL archives: compact metadata
files whose data blocks live in content-addressed stores (local
directories, zdb namespaces, S3 buckets, or read-only HTTP hubs).

An FL can be mounted read-only with contents streaming in on demand,
unpacked back into a directory tree, or re-routed to a new set of
stores by copying its blocks.`,
		Subcommands: []*cli.Command{
			packCommand(),
			mountCommand(),
			unpackCommand(),
			cloneCommand(),
			configCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Pack a tree into an FL backed by a local store",
				Command:     "flkit pack -m root.fl -s dir:///var/lib/fl/store /path/to/root",
			},
			{
				Description: "Mount it read-only",
				Command:     "flkit mount -m root.fl /mnt/root",
			},
			{
				Description: "Shard blocks across two zdb namespaces",
				Command:     "flkit pack -m root.fl -s 00-7f=zdb://hub1:9900/ns -s 80-ff=zdb://hub2:9900/ns /path/to/root",
			},
		},
	}
}

// newLogger builds the process logger. Debug mode lowers the level
// and keeps source locations out of the way.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// addCommonFlags registers the flags shared by every verb.
func addCommonFlags(flagSet *pflag.FlagSet, flPath *string, debug *bool) {
	flagSet.StringVarP(flPath, "meta", "m", "", "path to the FL file")
	flagSet.BoolVar(debug, "debug", false, "enable debug logging")
}
