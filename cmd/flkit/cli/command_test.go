// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestDispatchToSubcommand(t *testing.T) {
	var ran []string

	root := &Command{
		Name: "root",
		Subcommands: []*Command{
			{
				Name: "first",
				Run: func(args []string) error {
					ran = append(ran, "first")
					return nil
				},
			},
			{
				Name: "second",
				Subcommands: []*Command{
					{
						Name: "nested",
						Run: func(args []string) error {
							ran = append(ran, "nested:"+strings.Join(args, ","))
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"first"}); err != nil {
		t.Fatalf("Execute first failed: %v", err)
	}
	if err := root.Execute([]string{"second", "nested", "a", "b"}); err != nil {
		t.Fatalf("Execute nested failed: %v", err)
	}

	if len(ran) != 2 || ran[0] != "first" || ran[1] != "nested:a,b" {
		t.Errorf("ran = %v", ran)
	}
}

func TestUnknownSubcommand(t *testing.T) {
	root := &Command{
		Name:        "root",
		Subcommands: []*Command{{Name: "known", Run: func([]string) error { return nil }}},
	}

	err := root.Execute([]string{"unknown"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("got %v, want unknown command error", err)
	}
}

func TestFlagParsing(t *testing.T) {
	var value string

	command := &Command{
		Name: "cmd",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cmd", pflag.ContinueOnError)
			flagSet.StringVar(&value, "option", "", "")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	if err := command.Execute([]string{"--option", "set"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if value != "set" {
		t.Errorf("option = %q, want %q", value, "set")
	}

	if err := command.Execute([]string{"--bogus"}); err == nil {
		t.Error("Execute accepted an unknown flag")
	}
}

func TestSubcommandRequired(t *testing.T) {
	root := &Command{
		Name:        "root",
		Subcommands: []*Command{{Name: "sub", Run: func([]string) error { return nil }}},
	}

	if err := root.Execute(nil); err == nil {
		t.Error("Execute without a subcommand succeeded")
	}
}
