// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

// Command reactorctl is a small demo driving the reactor from the command
// line: a PING/PONG server and client, and a timer.
package main

import (
	"fmt"
	"os"

	reactor "github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reactorctl: %s\n", err)
		os.Exit(1)
	}
}

// app holds the state shared by all subcommands.
type app struct {
	logger   *reactor.Logger
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := new(app)

	rootCmd := &cobra.Command{
		Use:   "reactorctl",
		Short: "Drive a single-threaded epoll reactor",
		Long: `reactorctl exercises the reactor over real sockets and timers.

Addresses take one of the forms:

  inet:<ipv4>:<port>
  inet6:<ipv6>:<port>
  unix:<path>
  unix:@<name>`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(a.logLevel)
			if err != nil {
				return err
			}
			a.logger = reactor.NewLogger(cmd.ErrOrStderr(), level)
			reactor.SetLogger(a.logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (disabled, err, warning, notice, info, debug, trace)")

	rootCmd.AddCommand(
		serveCmd(a),
		connectCmd(a),
		timerCmd(a),
		versionCmd(),
	)

	return rootCmd
}

func parseLevel(s string) (logiface.Level, error) {
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
