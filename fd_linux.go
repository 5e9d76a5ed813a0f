// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"encoding/binary"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// closeFD closes a file descriptor.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// readFD reads from a file descriptor, retrying on EINTR.
func readFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// writeFD writes to a file descriptor, retrying on EINTR.
func writeFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Write(fd, buf)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// readCounter reads the 8 byte counter of an eventfd or timerfd.
// A short read is reported as ErrIO, EAGAIN is returned as-is.
func readCounter(fd int) (uint64, error) {
	var buf [8]byte
	n, err := readFD(fd, buf[:])
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, ErrIO
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// addCounter adds v to the 8 byte counter of an eventfd.
func addCounter(fd int, v uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], v)
	n, err := writeFD(fd, buf[:])
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrIO
	}
	return nil
}

// syscallErr wraps err in an *os.SyscallError, unless it is nil or one of
// this package's sentinels.
func syscallErr(call string, err error) error {
	if _, ok := err.(unix.Errno); !ok {
		return err
	}
	return os.NewSyscallError(call, err)
}

// sharedFD is a file descriptor that other goroutines may write to while
// the owner closes it. Once close returns, no use of the old descriptor is
// in flight, so a reused descriptor number is never written to.
type sharedFD struct {
	mu sync.RWMutex
	fd int
}

func (x *sharedFD) store(fd int) {
	x.mu.Lock()
	x.fd = fd
	x.mu.Unlock()
}

// load returns the descriptor, or -1 once closed.
func (x *sharedFD) load() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.fd
}

// use calls fn with the descriptor, holding it open for the duration.
func (x *sharedFD) use(fn func(fd int) error) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.fd < 0 {
		return ErrClosed
	}
	return fn(x.fd)
}

// close closes the descriptor, if still open, after waiting for any use
// in progress.
func (x *sharedFD) close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fd < 0 {
		return nil
	}
	fd := x.fd
	x.fd = -1
	return closeFD(fd)
}
