// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// wakeupMagic is the value added to an eventfd to signal it. Reads of a
// signalled eventfd always return a non-zero multiple of it.
const wakeupMagic = 0x35

// createEventFD creates a non-blocking, close-on-exec eventfd.
func createEventFD(initval uint, flags int) (int, error) {
	return unix.Eventfd(initval, flags|unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
}

// signalEventFD adds wakeupMagic to the eventfd. A saturated counter
// (EAGAIN) already guarantees readiness, and is not an error.
func signalEventFD(fd int) error {
	if err := addCounter(fd, wakeupMagic); err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// drainEventFD resets the eventfd, reporting whether it was signalled.
func drainEventFD(fd int) (bool, error) {
	v, err := readCounter(fd)
	switch {
	case err == unix.EAGAIN:
		return false, nil
	case err != nil:
		return false, err
	case v == 0 || v%wakeupMagic != 0:
		return false, ErrIO
	default:
		return true, nil
	}
}
