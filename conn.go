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

// Conn is a connection tracked by a Context: an accepted or connected
// stream socket, or the socket of a datagram Context.
//
// A Conn is owned by its Context, and is only valid until it is removed,
// after which Context returns nil.
type Conn struct {
	ctx     *Context
	buf     []byte
	local   sockaddr.Address
	peer    sockaddr.Address
	fd      int
	dgram   bool
	pending bool
}

func (c *Context) newConn(fd int, local, peer sockaddr.Address, dgram bool) *Conn {
	return &Conn{
		ctx:   c,
		buf:   make([]byte, 0, c.readBufSize),
		local: local,
		peer:  peer,
		fd:    fd,
		dgram: dgram,
	}
}

// FD returns the socket, or -1 once the Conn has been removed.
func (x *Conn) FD() int { return x.fd }

// Context returns the owning Context, or nil once the Conn has been removed.
func (x *Conn) Context() *Context { return x.ctx }

// LocalAddr returns the local address of the socket.
func (x *Conn) LocalAddr() sockaddr.Address { return x.local }

// PeerAddr returns the remote address. For datagram sockets it is the
// source of the most recently received datagram.
func (x *Conn) PeerAddr() sockaddr.Address { return x.peer }

// Data returns the bytes of the most recent read. The slice is reused by
// the next read.
func (x *Conn) Data() []byte { return x.buf }

// PendingRemoval reports whether the Conn has been marked for removal,
// e.g. after the peer closed the connection.
func (x *Conn) PendingRemoval() bool { return x.pending }

// handle is the FDCallback of every Conn.
func (x *Conn) handle(_ int, events FDEvents, _ any) {
	if x.ctx == nil {
		return
	}

	if events&EventIn != 0 && !x.pending {
		if x.dgram {
			x.receiveFrom()
		} else {
			x.receive()
		}
		// a handler may have removed the conn (or closed the context)
		if x.ctx == nil {
			return
		}
	}

	if events&EventOut != 0 && !x.pending {
		x.flush()
	}

	if x.pending ||
		events&EventError != 0 ||
		(events&EventHangup != 0 && events&EventIn == 0) {
		_ = x.ctx.RemoveConn(x)
	}
}

func (x *Conn) receive() {
	n, err := readFD(x.fd, x.buf[:cap(x.buf)])
	switch {
	case err == unix.EAGAIN:
		return
	case err != nil:
		logSyscall(x.ctx.logger.Debug(), "read", x.fd, err)
		x.pending = true
		return
	case n == 0:
		x.pending = true
		return
	}
	x.buf = x.buf[:n]
	x.deliver()
}

func (x *Conn) receiveFrom() {
	n, from, err := recvFromFD(x.fd, x.buf[:cap(x.buf)])
	switch {
	case err == unix.EAGAIN:
		return
	case err != nil:
		logSyscall(x.ctx.logger.Warning().Limit(), "recvfrom", x.fd, err)
		return
	case n <= 0:
		x.ctx.logger.Warning().
			Limit().
			Int("fd", x.fd).
			Log("empty datagram ignored")
		return
	}
	if peer, err := sockaddr.FromSockaddr(from); err == nil {
		x.peer = peer
	}
	x.buf = x.buf[:n]
	x.deliver()
}

func (x *Conn) deliver() {
	ctx := x.ctx
	ctx.fireEvent(ConnEventData, x)
	if x.ctx == nil {
		return
	}
	if ctx.onData != nil {
		ctx.onData(ctx, x, x.buf, ctx.userdata)
	}
}

// flush is called when the socket is writable. Writes are synchronous, so
// there is nothing buffered to flush.
func (x *Conn) flush() {}
