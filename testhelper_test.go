// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-reactor/sockaddr"
	"github.com/stretchr/testify/require"
)

const spinDeadline = 5 * time.Second

// spinUntil spins loop until cond returns true, failing the test if that
// takes longer than spinDeadline.
func spinUntil(t testing.TB, loop *Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(spinDeadline)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		require.NoError(t, loop.SpinTimeout(10*time.Millisecond))
	}
}

// spinFor spins loop for (at least) d.
func spinFor(t testing.TB, loop *Loop, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		require.NoError(t, loop.SpinTimeout(remaining))
	}
}

// newTestLoop returns a Loop with logging disabled, closed on cleanup.
func newTestLoop(t testing.TB, opts ...LoopOption) *Loop {
	t.Helper()
	loop, err := New(append([]LoopOption{WithLogger(nil)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })
	return loop
}

// newTestContext returns a Context borrowing loop, closed on cleanup.
func newTestContext(t testing.TB, loop *Loop, opts ...ContextOption) *Context {
	t.Helper()
	ctx, err := NewContextWithLoop(loop, append([]ContextOption{WithContextLogger(nil)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx
}

var abstractSeq atomic.Int64

// abstractAddr returns a unique address in the abstract unix namespace.
func abstractAddr(t testing.TB) sockaddr.Address {
	t.Helper()
	addr, err := sockaddr.Parse(fmt.Sprintf("unix:@reactor-%d-%d", os.Getpid(), abstractSeq.Add(1)))
	require.NoError(t, err)
	return addr
}

// connEvents records the notifications delivered to a ConnEventHandler.
type connEvents struct {
	connected    int
	disconnected int
	data         int
	last         *Conn
}

func (x *connEvents) handler(_ *Context, event ConnEvent, conn *Conn, _ any) {
	x.last = conn
	switch event {
	case ConnEventConnected:
		x.connected++
	case ConnEventDisconnected:
		x.disconnected++
	case ConnEventData:
		x.data++
	}
}
