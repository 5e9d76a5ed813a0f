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

	"golang.org/x/sys/unix"
)

// EventCallback is invoked from Loop.Spin after an attached Event has been
// triggered (and cleared).
type EventCallback func(e *Event, userdata any)

// Event is a loop-integrated signal backed by an eventfd. Trigger may be
// called from any goroutine, and causes the callback to run on the spinning
// goroutine of the Loop the Event is attached to. Triggers that happen
// before the callback runs are coalesced.
type Event struct {
	loop     *Loop
	cb       EventCallback
	userdata any
	fd       sharedFD
}

// NewEvent creates a detached Event. The flags are additional eventfd
// flags; EFD_NONBLOCK and EFD_CLOEXEC are always set, and EFD_SEMAPHORE is
// not supported. A nil callback is permitted.
func NewEvent(flags int, cb EventCallback, userdata any) (*Event, error) {
	if flags&unix.EFD_SEMAPHORE != 0 {
		return nil, fmt.Errorf("%w: EFD_SEMAPHORE is not supported", ErrInvalidArgument)
	}
	fd, err := createEventFD(0, flags)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, os.NewSyscallError("eventfd", err))
	}
	e := &Event{cb: cb, userdata: userdata}
	e.fd.store(fd)
	return e, nil
}

// FD returns the eventfd, or -1 after Close.
func (e *Event) FD() int { return e.fd.load() }

// Loop returns the Loop the Event is attached to, or nil.
func (e *Event) Loop() *Loop { return e.loop }

// Attach registers the Event with loop.
func (e *Event) Attach(loop *Loop) error {
	if loop == nil {
		return fmt.Errorf("%w: nil loop", ErrInvalidArgument)
	}
	fd := e.FD()
	if fd < 0 {
		return ErrClosed
	}
	if e.loop != nil {
		return fmt.Errorf("%w: event already attached", ErrInvalidState)
	}
	if err := loop.Add(fd, EventIn, e.handle, nil); err != nil {
		return err
	}
	e.loop = loop
	return nil
}

// Detach unregisters the Event from loop, which must be the Loop it is
// attached to.
func (e *Event) Detach(loop *Loop) error {
	if e.loop == nil || e.loop != loop {
		return fmt.Errorf("%w: event not attached to loop", ErrInvalidState)
	}
	e.loop = nil
	return loop.Remove(e.FD())
}

// Trigger signals the Event. It is safe to call from any goroutine,
// including concurrently with Close.
func (e *Event) Trigger() error {
	return e.fd.use(func(fd int) error {
		return syscallErr("write", signalEventFD(fd))
	})
}

// Clear resets the Event, reporting whether it had been triggered.
func (e *Event) Clear() (bool, error) {
	var ok bool
	err := e.fd.use(func(fd int) (err error) {
		ok, err = drainEventFD(fd)
		return syscallErr("read", err)
	})
	return ok, err
}

func (e *Event) handle(fd int, _ FDEvents, _ any) {
	ok, err := e.Clear()
	if err != nil {
		var logger *Logger
		if e.loop != nil {
			logger = e.loop.logger
		}
		logSyscall(logger.Warning(), "read", fd, err)
		return
	}
	if ok && e.cb != nil {
		e.cb(e, e.userdata)
	}
}

// Close detaches the Event, if attached, and closes the eventfd.
// Calling Close more than once is a no-op.
func (e *Event) Close() error {
	var errs []error
	if e.loop != nil {
		if err := e.Detach(e.loop); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if err := e.fd.close(); err != nil {
		errs = append(errs, os.NewSyscallError("close", err))
	}
	return errors.Join(errs...)
}
