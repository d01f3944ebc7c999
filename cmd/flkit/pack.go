// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/flkit/flkit/cmd/flkit/cli"
	"github.com/flkit/flkit/lib/fl"
	"github.com/flkit/flkit/lib/store"
)

// storesFile is the YAML shape accepted by --stores-file: a store
// URL list plus an optional block size, so route sets can be shared
// between pack runs.
type storesFile struct {
	Stores    []string `yaml:"stores"`
	BlockSize int      `yaml:"block-size"`
}

func packCommand() *cli.Command {
	var (
		flPath        string
		debug         bool
		storeSpecs    []string
		storesPath    string
		blockSize     int
		keepPasswords bool
		workers       int
	)

	return &cli.Command{
		Name:    "pack",
		Summary: "Pack a directory tree into an FL",
		Usage:   "flkit pack -m <fl> -s <store-url>... [flags] <source>",
		Description: `Walk a directory tree, upload its file contents as encrypted
blocks to the given stores, and write the metadata into a fresh FL.

Store URLs may carry a prefix range ("00-7f=dir:///tmp/s1") to shard
blocks by id. Overlapping ranges replicate. Passwords in store URLs
are stripped from the FL's route table unless --keep-passwords is
set.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("pack", pflag.ContinueOnError)
			addCommonFlags(flagSet, &flPath, &debug)
			flagSet.StringArrayVarP(&storeSpecs, "store", "s", nil, "store URL (repeatable, optional range prefix)")
			flagSet.StringVar(&storesPath, "stores-file", "", "YAML file listing store URLs")
			flagSet.IntVar(&blockSize, "block-size", 0, "plaintext block size in bytes (default 512 KiB)")
			flagSet.BoolVar(&keepPasswords, "keep-passwords", false, "keep store URL passwords in the FL route table")
			flagSet.IntVar(&workers, "workers", 0, "concurrent file uploads")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("pack takes exactly one source directory")
			}
			if flPath == "" {
				return fmt.Errorf("--meta is required")
			}

			if storesPath != "" {
				fromFile, fileBlockSize, err := loadStoresFile(storesPath)
				if err != nil {
					return err
				}
				storeSpecs = append(storeSpecs, fromFile...)
				if blockSize == 0 {
					blockSize = fileBlockSize
				}
			}
			if len(storeSpecs) == 0 {
				return fmt.Errorf("at least one --store is required")
			}

			logger := newLogger(debug)
			ctx := context.Background()

			router, err := store.RouterFromSpecs(ctx, storeSpecs, logger)
			if err != nil {
				return err
			}

			return fl.Pack(ctx, fl.PackOptions{
				Source:        args[0],
				FLPath:        flPath,
				Store:         router,
				BlockSize:     blockSize,
				KeepPasswords: keepPasswords,
				Workers:       workers,
				Logger:        logger,
			})
		},
	}
}

func loadStoresFile(path string) ([]string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("reading stores file: %w", err)
	}
	var parsed storesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, 0, fmt.Errorf("parsing stores file %s: %w", path, err)
	}
	return parsed.Stores, parsed.BlockSize, nil
}
