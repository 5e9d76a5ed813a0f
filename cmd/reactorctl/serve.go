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
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	reactor "github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/promreactor"
	"github.com/joeycumines/go-reactor/sockaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	pingMessage = []byte("PING")
	pongMessage = []byte("PONG")
)

func serveCmd(a *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve <addr>",
		Short: "Listen on addr, answering PING with PONG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := sockaddr.Parse(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, addr, metricsAddr, nil)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics over HTTP on this address (e.g. :9090)")

	return cmd
}

// serve runs a PING/PONG server until ctx is cancelled. If ready is
// non-nil, it is called with the listening Context once bound.
func (a *app) serve(ctx context.Context, addr sockaddr.Address, metricsAddr string, ready func(*reactor.Context)) error {
	loop, err := reactor.New(reactor.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer loop.Close()

	server, err := reactor.NewContextWithLoop(loop,
		reactor.WithContextLogger(a.logger),
		reactor.WithEventHandler(a.logConnEvent),
		reactor.WithDataHandler(func(c *reactor.Context, conn *reactor.Conn, data []byte, _ any) {
			// stream reads may coalesce messages
			n := bytes.Count(data, pingMessage)
			if n == 0 {
				a.logger.Info().
					Int("fd", conn.FD()).
					Int("len", len(data)).
					Log("ignoring unexpected message")
				return
			}
			if err := c.Send(bytes.Repeat(pongMessage, n)); err != nil {
				a.logger.Warning().Err(err).Log("send failed")
			}
		}),
	)
	if err != nil {
		return err
	}
	defer server.Close()

	if err := server.Listen(addr); err != nil {
		return err
	}
	a.logger.Notice().
		Str("addr", server.LocalAddr().String()).
		Log("listening")

	if metricsAddr != "" {
		_, shutdown, err := a.serveMetrics(metricsAddr, loop)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	if ready != nil {
		ready(server)
	}

	return a.run(ctx, loop, nil)
}

// serveMetrics exposes the loop metrics at /metrics, returning the bound
// address and a func to stop the server.
func (a *app) serveMetrics(addr string, loop *reactor.Loop) (net.Addr, func(), error) {
	reg := prometheus.NewRegistry()
	if _, err := promreactor.Register(reg, loop); err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Err().Err(err).Log("metrics server failed")
		}
	}()

	a.logger.Notice().
		Str("addr", ln.Addr().String()).
		Log("serving metrics")

	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func (a *app) logConnEvent(_ *reactor.Context, event reactor.ConnEvent, conn *reactor.Conn, _ any) {
	if event == reactor.ConnEventData {
		a.logger.Debug().
			Int("fd", conn.FD()).
			Int("len", len(conn.Data())).
			Log("data")
		return
	}
	a.logger.Info().
		Stringer("event", event).
		Int("fd", conn.FD()).
		Str("peer", conn.PeerAddr().String()).
		Log("connection")
}
