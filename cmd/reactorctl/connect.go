// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	reactor "github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/sockaddr"
	"github.com/spf13/cobra"
)

var errServerClosed = errors.New("server closed the connection")

func connectCmd(a *app) *cobra.Command {
	var (
		count    int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect <addr>",
		Short: "Connect to addr, sending PING and waiting for PONG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 0 {
				return fmt.Errorf("invalid count %d", count)
			}
			if interval < 0 {
				return fmt.Errorf("invalid interval %s", interval)
			}
			addr, err := sockaddr.Parse(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.connect(ctx, addr, count, interval, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of PONG replies to wait for (0 means until interrupted)")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "delay between a PONG and the next PING")

	return cmd
}

// connect pings addr until count PONG replies arrive (forever if count is
// zero), the server disconnects, or ctx is cancelled.
func (a *app) connect(ctx context.Context, addr sockaddr.Address, count int, interval time.Duration, w io.Writer) error {
	loop, err := reactor.New(reactor.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer loop.Close()

	var (
		pongs  int
		closed bool
		errs   []error
	)

	client, err := reactor.NewContextWithLoop(loop,
		reactor.WithContextLogger(a.logger),
		reactor.WithEventHandler(func(c *reactor.Context, event reactor.ConnEvent, conn *reactor.Conn, userdata any) {
			a.logConnEvent(c, event, conn, userdata)
			if event == reactor.ConnEventDisconnected {
				closed = true
			}
		}),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	ping := func() {
		if err := client.Send(pingMessage); err != nil {
			errs = append(errs, err)
		}
	}

	timer, err := reactor.NewTimer(loop, func(*reactor.Timer, any) { ping() }, nil)
	if err != nil {
		return err
	}
	defer timer.Close()

	client.SetDataHandler(func(_ *reactor.Context, conn *reactor.Conn, data []byte, _ any) {
		n := bytes.Count(data, pongMessage)
		for range n {
			pongs++
			fmt.Fprintf(w, "%s %d from %s\n", pongMessage, pongs, conn.PeerAddr())
		}
		if n == 0 || (count > 0 && pongs >= count) {
			return
		}
		if interval == 0 {
			ping()
		} else if err := timer.Set(interval, 0); err != nil {
			errs = append(errs, err)
		}
	})

	if err := client.Connect(addr); err != nil {
		return err
	}
	ping()

	if err := a.run(ctx, loop, func() bool {
		return closed || len(errs) != 0 || (count > 0 && pongs >= count)
	}); err != nil {
		return err
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}
	if closed && (count == 0 || pongs < count) {
		return errServerClosed
	}
	return nil
}
