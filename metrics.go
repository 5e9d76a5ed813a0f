// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"sync/atomic"
)

// Metrics is a point-in-time snapshot of the counters maintained by a Loop.
// All counters are cumulative since the Loop was created, except
// Registered, which is the current number of registered descriptors.
type Metrics struct {
	// Spins is the number of completed or attempted waits.
	Spins uint64
	// Dispatched is the number of callbacks invoked.
	Dispatched uint64
	// Wakeups is the number of successful Loop.Wakeup calls.
	Wakeups uint64
	// Unmatched is the number of readiness events for which no registration
	// existed.
	Unmatched uint64
	// Registered is the number of descriptors currently registered,
	// excluding the internal wakeup descriptor.
	Registered int
}

// loopMetrics holds the live counters. Updates happen on the spinning
// goroutine (and Wakeup's caller), reads may happen from anywhere.
type loopMetrics struct {
	spins      atomic.Uint64
	dispatched atomic.Uint64
	wakeups    atomic.Uint64
	unmatched  atomic.Uint64
	registered atomic.Int64
}

func (x *loopMetrics) snapshot() Metrics {
	return Metrics{
		Spins:      x.spins.Load(),
		Dispatched: x.dispatched.Load(),
		Wakeups:    x.wakeups.Load(),
		Unmatched:  x.unmatched.Load(),
		Registered: int(x.registered.Load()),
	}
}
