// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"github.com/joeycumines/go-reactor/sockaddr"
	"golang.org/x/sys/unix"
)

// openSocket creates a close-on-exec socket, optionally non-blocking.
func openSocket(domain, typ int, nonblock bool) (int, error) {
	typ |= unix.SOCK_CLOEXEC
	if nonblock {
		typ |= unix.SOCK_NONBLOCK
	}
	return unix.Socket(domain, typ, 0)
}

// enableSockopt sets a boolean SOL_SOCKET option.
func enableSockopt(fd, opt int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, opt, 1)
}

// localAddr returns the address fd is bound to.
func localAddr(fd int) (sockaddr.Address, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return sockaddr.Address{}, err
	}
	return sockaddr.FromSockaddr(sa)
}

// connectFD connects a blocking socket. An interrupted connect continues
// asynchronously, in which case this waits for it to complete.
func connectFD(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err != unix.EINTR {
		return err
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err = unix.Poll(pfd, -1)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return err
	}
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}

// acceptFD accepts a connection as a non-blocking, close-on-exec socket.
func acceptFD(fd int) (int, unix.Sockaddr, error) {
	for {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != unix.EINTR {
			return nfd, sa, err
		}
	}
}

// sendFD sends buf (or a prefix of it) on a socket, to sa if non-nil,
// without raising SIGPIPE.
func sendFD(fd int, buf []byte, sa unix.Sockaddr) (int, error) {
	for {
		n, err := unix.SendmsgN(fd, buf, nil, sa, unix.MSG_NOSIGNAL)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// recvFromFD receives a single datagram.
func recvFromFD(fd int, buf []byte) (int, unix.Sockaddr, error) {
	for {
		n, sa, err := unix.Recvfrom(fd, buf, 0)
		if err != unix.EINTR {
			return n, sa, err
		}
	}
}
