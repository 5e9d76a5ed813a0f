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
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// TimerCallback is invoked from Loop.Spin each time a Timer expires.
type TimerCallback func(t *Timer, userdata any)

// Timer is a one-shot or periodic timer backed by a timerfd (on
// CLOCK_MONOTONIC), delivering expirations through a Loop.
type Timer struct {
	loop        *Loop
	cb          TimerCallback
	userdata    any
	fd          int
	expirations uint64
}

// NewTimer creates a disarmed Timer registered with loop.
func NewTimer(loop *Loop, cb TimerCallback, userdata any) (*Timer, error) {
	if loop == nil {
		return nil, fmt.Errorf("%w: nil loop", ErrInvalidArgument)
	}
	if cb == nil {
		return nil, fmt.Errorf("%w: nil callback", ErrInvalidArgument)
	}

	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		logSyscall(loop.logger.Err(), "timerfd_create", -1, err)
		return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, os.NewSyscallError("timerfd_create", err))
	}

	t := &Timer{
		loop:     loop,
		cb:       cb,
		userdata: userdata,
		fd:       fd,
	}
	if err := loop.Add(fd, EventIn, t.handle, nil); err != nil {
		_ = closeFD(fd)
		return nil, err
	}
	return t, nil
}

// FD returns the timerfd, or -1 after Close.
func (t *Timer) FD() int { return t.fd }

// Set arms the timer to first expire after delay, then every period.
// A zero period makes it one-shot. A zero delay with a non-zero period
// expires immediately. Set(0, 0) disarms the timer.
func (t *Timer) Set(delay, period time.Duration) error {
	if t.fd < 0 {
		return ErrClosed
	}
	if delay < 0 || period < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidArgument)
	}
	if delay == 0 && period > 0 {
		delay = time.Nanosecond
	}
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(int64(period)),
		Value:    unix.NsecToTimespec(int64(delay)),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		logSyscall(t.loop.logger.Err(), "timerfd_settime", t.fd, err)
		return os.NewSyscallError("timerfd_settime", err)
	}
	return nil
}

// Clear disarms the timer.
func (t *Timer) Clear() error {
	return t.Set(0, 0)
}

// Expirations returns the expiry count read for the current (or most
// recent) invocation of the callback. Values above one mean periods were
// missed.
func (t *Timer) Expirations() uint64 { return t.expirations }

func (t *Timer) handle(fd int, _ FDEvents, _ any) {
	logger := t.loop.logger

	n, err := readCounter(fd)
	switch {
	case err == unix.EAGAIN:
		logger.Warning().
			Limit().
			Int("fd", fd).
			Log("timer readable but no expirations")
		return
	case errors.Is(err, ErrIO):
		logger.Warning().
			Int("fd", fd).
			Log("short read from timer")
		return
	case err != nil:
		logSyscall(logger.Err(), "read", fd, err)
		return
	case n == 0:
		logger.Err().
			Int("fd", fd).
			Log("timer fired with zero expirations")
		return
	case n > 1:
		logger.Warning().
			Limit().
			Int("fd", fd).
			Uint64("missed", n-1).
			Log("timer missed periods")
	}

	t.expirations = n
	t.cb(t, t.userdata)
}

// Close unregisters and closes the timer. Calling Close more than once is
// a no-op.
func (t *Timer) Close() error {
	if t.fd < 0 {
		return nil
	}
	fd := t.fd
	t.fd = -1

	var errs []error
	if err := t.loop.Remove(fd); err != nil && !errors.Is(err, ErrNotFound) {
		errs = append(errs, err)
	}
	if err := closeFD(fd); err != nil {
		errs = append(errs, os.NewSyscallError("close", err))
	}
	return errors.Join(errs...)
}
