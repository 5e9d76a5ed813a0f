// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"errors"

	"github.com/joeycumines/go-reactor/sockaddr"
)

// Standard errors.
//
// Failures of the underlying system calls are returned as [*os.SyscallError]
// values, so the errno remains available via [errors.Is].
var (
	// ErrInvalidArgument is returned for nil callbacks, negative file
	// descriptors, zero addresses and out-of-range option values.
	ErrInvalidArgument = errors.New("reactor: invalid argument")

	// ErrResourceExhausted is returned when a kernel object (epoll instance,
	// eventfd, timerfd, socket) could not be allocated.
	ErrResourceExhausted = errors.New("reactor: resource exhausted")

	// ErrNotFound is returned when removing something that is not present.
	ErrNotFound = errors.New("reactor: not found")

	// ErrAlreadyRegistered is returned by Loop.Add for a duplicate fd.
	ErrAlreadyRegistered = errors.New("reactor: fd already registered")

	// ErrIO is returned for short or malformed reads and writes.
	ErrIO = errors.New("reactor: i/o error")

	// ErrInvalidState is returned when an operation does not apply to the
	// current mode of a Context (or Event attachment).
	ErrInvalidState = errors.New("reactor: invalid state")

	// ErrClosed is returned by operations on a closed Loop or Context.
	ErrClosed = errors.New("reactor: closed")

	// ErrInvalidFormat is returned for malformed address text.
	ErrInvalidFormat = sockaddr.ErrInvalidFormat
)
