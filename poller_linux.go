// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// poller is a thin wrapper around an epoll instance. Bookkeeping of
// callbacks is left to the Loop.
type poller struct {
	eventBuf []unix.EpollEvent
	epfd     int
}

// init creates the epoll instance.
func (p *poller) init(maxEvents int) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	p.eventBuf = make([]unix.EpollEvent, maxEvents)
	return nil
}

// close closes the epoll instance.
func (p *poller) close() error {
	if p.epfd <= 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}

// add starts monitoring fd.
func (p *poller) add(fd int, events FDEvents) error {
	ev := unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// del stops monitoring fd.
func (p *poller) del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for up to timeoutMs (-1 meaning forever) and returns the
// ready events, valid until the next call. Interrupted waits are retried
// with the remaining timeout.
func (p *poller) wait(timeoutMs int) ([]unix.EpollEvent, error) {
	var deadline time.Time
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	for {
		n, err := unix.EpollWait(p.epfd, p.eventBuf, timeoutMs)
		if err == nil {
			return p.eventBuf[:n], nil
		}
		if err != unix.EINTR {
			return nil, err
		}
		if timeoutMs > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			timeoutMs = durationToMs(remaining)
		}
	}
}

// eventsToEpoll converts FDEvents to epoll event flags.
func eventsToEpoll(events FDEvents) uint32 {
	var epollEvents uint32
	if events&EventIn != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventPri != 0 {
		epollEvents |= unix.EPOLLPRI
	}
	if events&EventOut != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	if events&EventError != 0 {
		epollEvents |= unix.EPOLLERR
	}
	if events&EventHangup != 0 {
		epollEvents |= unix.EPOLLHUP
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to FDEvents.
func epollToEvents(epollEvents uint32) FDEvents {
	var events FDEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventIn
	}
	if epollEvents&unix.EPOLLPRI != 0 {
		events |= EventPri
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventOut
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
