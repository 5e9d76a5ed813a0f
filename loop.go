// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"
)

// FDCallback is invoked by Loop.Spin for a ready file descriptor, with the
// portable readiness mask and the userdata given to Loop.Add.
type FDCallback func(fd int, events FDEvents, userdata any)

// Descriptor is a registration held by a Loop.
type Descriptor struct {
	Callback FDCallback
	Userdata any
	FD       int
	Events   FDEvents
}

// Loop is a single-threaded readiness reactor, built on epoll.
//
// Exactly one goroutine may call Spin, and every other method, except
// Wakeup and Metrics, must be called from that goroutine (typically from
// within callbacks, or between calls to Spin).
type Loop struct {
	logger        *Logger
	registrations map[int]*Descriptor
	// fds removed while dispatching the current batch
	removed       map[int]struct{}
	poller        poller
	metrics       loopMetrics
	wakeFd        sharedFD
	dispatching   bool
	closed        bool
}

// New creates a Loop, with its epoll instance and wakeup eventfd.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		logger:        cfg.logger,
		registrations: make(map[int]*Descriptor),
		removed:       make(map[int]struct{}),
	}
	l.wakeFd.store(-1)

	if err := l.poller.init(cfg.maxEvents); err != nil {
		logSyscall(l.logger.Err(), "epoll_create1", -1, err)
		return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, os.NewSyscallError("epoll_create1", err))
	}

	wakeFd, err := createEventFD(0, 0)
	if err != nil {
		_ = l.poller.close()
		logSyscall(l.logger.Err(), "eventfd", -1, err)
		return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, os.NewSyscallError("eventfd", err))
	}

	if err := l.poller.add(wakeFd, EventIn); err != nil {
		_ = l.poller.close()
		_ = closeFD(wakeFd)
		logSyscall(l.logger.Err(), "epoll_ctl", wakeFd, err)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}

	l.wakeFd.store(wakeFd)
	return l, nil
}

// Add registers fd for the given events. The callback is invoked from Spin
// whenever fd is ready. The Loop never closes fd.
func (l *Loop) Add(fd int, events FDEvents, cb FDCallback, userdata any) error {
	if l.closed {
		return ErrClosed
	}
	if fd < 0 {
		return fmt.Errorf("%w: negative fd %d", ErrInvalidArgument, fd)
	}
	if cb == nil {
		return fmt.Errorf("%w: nil callback", ErrInvalidArgument)
	}
	if _, ok := l.registrations[fd]; ok || fd == l.wakeFd.load() {
		return ErrAlreadyRegistered
	}

	l.registrations[fd] = &Descriptor{
		Callback: cb,
		Userdata: userdata,
		FD:       fd,
		Events:   events,
	}

	if err := l.poller.add(fd, events); err != nil {
		delete(l.registrations, fd) // rollback
		logSyscall(l.logger.Err(), "epoll_ctl", fd, err)
		return os.NewSyscallError("epoll_ctl", err)
	}

	l.metrics.registered.Add(1)
	return nil
}

// Remove unregisters fd. It must be called before fd is closed.
func (l *Loop) Remove(fd int) error {
	if _, ok := l.registrations[fd]; !ok {
		return ErrNotFound
	}

	delete(l.registrations, fd)
	l.metrics.registered.Add(-1)
	if l.dispatching {
		// the fd may be reused before the rest of the batch is dispatched
		l.removed[fd] = struct{}{}
	}

	if err := l.poller.del(fd); err != nil {
		logSyscall(l.logger.Err(), "epoll_ctl", fd, err)
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// Find returns a copy of the registration for fd.
func (l *Loop) Find(fd int) (Descriptor, bool) {
	if d, ok := l.registrations[fd]; ok {
		return *d, true
	}
	return Descriptor{}, false
}

// Len returns the number of registered descriptors.
func (l *Loop) Len() int {
	return len(l.registrations)
}

// Spin waits, without a timeout, for at least one descriptor to become ready
// (or for Wakeup), then invokes the callbacks of the ready descriptors.
func (l *Loop) Spin() error {
	return l.spin(-1)
}

// SpinTimeout is like Spin, but returns after at most d if nothing becomes
// ready. A negative d waits forever, zero polls without blocking.
func (l *Loop) SpinTimeout(d time.Duration) error {
	return l.spin(durationToMs(d))
}

func durationToMs(d time.Duration) int {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

func (l *Loop) spin(timeoutMs int) error {
	if l.closed {
		return ErrClosed
	}

	l.metrics.spins.Add(1)

	events, err := l.poller.wait(timeoutMs)
	if err != nil {
		logSyscall(l.logger.Err(), "epoll_wait", l.poller.epfd, err)
		return os.NewSyscallError("epoll_wait", err)
	}

	l.dispatching = true
	defer func() {
		l.dispatching = false
		clear(l.removed)
	}()

	wakeFd := l.wakeFd.load()
	for i := range events {
		fd := int(events[i].Fd)
		mask := epollToEvents(events[i].Events)

		if fd == wakeFd {
			l.drainWakeup(fd)
			continue
		}

		// may have been removed by an earlier callback in this batch
		d, ok := l.registrations[fd]
		if _, removed := l.removed[fd]; removed {
			ok = false
		}
		if !ok {
			l.metrics.unmatched.Add(1)
			l.logger.Warning().
				Limit().
				Int("fd", fd).
				Stringer("events", mask).
				Log("readiness for unregistered fd")
			continue
		}

		l.metrics.dispatched.Add(1)
		d.Callback(fd, mask, d.Userdata)

		if l.closed {
			break
		}
	}

	return nil
}

func (l *Loop) drainWakeup(fd int) {
	if _, err := drainEventFD(fd); err != nil {
		logSyscall(l.logger.Warning().Limit(), "read", fd, err)
	}
}

// Wakeup interrupts a blocked (or the next) Spin. It is safe to call from
// any goroutine.
func (l *Loop) Wakeup() error {
	err := l.wakeFd.use(func(fd int) error {
		return syscallErr("write", signalEventFD(fd))
	})
	if err != nil {
		return err
	}
	l.metrics.wakeups.Add(1)
	return nil
}

// Metrics returns a snapshot of the loop counters. It is safe to call from
// any goroutine.
func (l *Loop) Metrics() Metrics {
	return l.metrics.snapshot()
}

// Close releases the epoll instance, the wakeup eventfd and all remaining
// registrations. Registered file descriptors are not closed. Calling Close
// more than once is a no-op.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	clear(l.registrations)
	clear(l.removed)
	l.metrics.registered.Store(0)

	var errs []error
	if err := l.poller.close(); err != nil {
		errs = append(errs, os.NewSyscallError("close", err))
	}
	if err := l.wakeFd.close(); err != nil {
		errs = append(errs, os.NewSyscallError("close", err))
	}
	return errors.Join(errs...)
}
