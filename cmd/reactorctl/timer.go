// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	reactor "github.com/joeycumines/go-reactor"
	"github.com/spf13/cobra"
)

var errTimerDisarmed = errors.New("delay and period are both zero")

func timerCmd(a *app) *cobra.Command {
	var (
		delay  time.Duration
		period time.Duration
		count  int
	)

	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Arm a timer and print each expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 0 {
				return fmt.Errorf("invalid count %d", count)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.timer(ctx, delay, period, count, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", time.Second, "delay before the first expiry")
	cmd.Flags().DurationVar(&period, "period", time.Second, "interval between expiries (0 for one-shot)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many expiries (0 means until interrupted)")

	return cmd
}

// timer prints every expiry until count is reached, ctx is cancelled, or
// (for a one-shot timer) the single expiry has fired.
func (a *app) timer(ctx context.Context, delay, period time.Duration, count int, w io.Writer) error {
	if delay == 0 && period == 0 {
		return errTimerDisarmed
	}

	loop, err := reactor.New(reactor.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer loop.Close()

	var fires int
	start := time.Now()

	timer, err := reactor.NewTimer(loop, func(t *reactor.Timer, _ any) {
		fires++
		fmt.Fprintf(w, "tick %d expirations=%d elapsed=%s\n", fires, t.Expirations(), time.Since(start).Round(time.Millisecond))
	}, nil)
	if err != nil {
		return err
	}
	defer timer.Close()

	if err := timer.Set(delay, period); err != nil {
		return err
	}

	return a.run(ctx, loop, func() bool {
		if period == 0 && fires > 0 {
			return true
		}
		return count > 0 && fires >= count
	})
}
