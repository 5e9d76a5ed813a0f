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
	"sync"
	"sync/atomic"

	reactor "github.com/joeycumines/go-reactor"
)

// run spins loop until done reports true, or ctx is cancelled. Cancellation
// is delivered to the spinning goroutine via Loop.Wakeup.
func (a *app) run(ctx context.Context, loop *reactor.Loop, done func() bool) error {
	var (
		stop     atomic.Bool
		wg       sync.WaitGroup
		finished = make(chan struct{})
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			stop.Store(true)
			if err := loop.Wakeup(); err != nil && !errors.Is(err, reactor.ErrClosed) {
				a.logger.Err().Err(err).Log("wakeup failed")
			}
		case <-finished:
		}
	}()
	defer func() {
		close(finished)
		wg.Wait()
	}()

	for !stop.Load() && (done == nil || !done()) {
		if err := loop.Spin(); err != nil {
			return err
		}
	}

	return nil
}
