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
	"slices"

	"github.com/joeycumines/go-reactor/sockaddr"
	"golang.org/x/sys/unix"
)

// Mode is the role a Context has committed to.
type Mode int

const (
	// ModeUnbound is the initial mode, before any successful Listen,
	// Connect, Bind, Broadcast or BroadcastFrom.
	ModeUnbound Mode = iota
	// ModeServer is a listening stream socket, accepting connections.
	ModeServer
	// ModeClient is a single connected stream socket.
	ModeClient
	// ModeDatagram is a single datagram socket.
	ModeDatagram
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeUnbound:
		return "unbound"
	case ModeServer:
		return "server"
	case ModeClient:
		return "client"
	case ModeDatagram:
		return "datagram"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// LoopOwnership records whether a Context closes its Loop.
type LoopOwnership int

const (
	// LoopBorrowed means the Loop was supplied by the caller, and outlives
	// the Context.
	LoopBorrowed LoopOwnership = iota
	// LoopOwned means the Loop was created by NewContext, and is closed by
	// Context.Close.
	LoopOwned
)

// ConnEvent identifies a connection lifecycle notification.
type ConnEvent int

const (
	// ConnEventConnected is delivered once a Conn is registered.
	ConnEventConnected ConnEvent = iota
	// ConnEventDisconnected is delivered once per removed Conn, before its
	// socket is closed.
	ConnEventDisconnected
	// ConnEventData is delivered after each successful read, before the
	// DataHandler.
	ConnEventData
)

// String implements fmt.Stringer.
func (e ConnEvent) String() string {
	switch e {
	case ConnEventConnected:
		return "connected"
	case ConnEventDisconnected:
		return "disconnected"
	case ConnEventData:
		return "data"
	default:
		return fmt.Sprintf("ConnEvent(%d)", int(e))
	}
}

type (
	// FDCreatedHandler is invoked for each socket created by a Context,
	// before it is configured, bound or connected. It may be used to set
	// additional socket options.
	FDCreatedHandler func(ctx *Context, fd int, userdata any)

	// ConnEventHandler receives connection lifecycle notifications.
	ConnEventHandler func(ctx *Context, event ConnEvent, conn *Conn, userdata any)

	// DataHandler receives the bytes read from a Conn. The data slice is
	// only valid until the handler returns.
	DataHandler func(ctx *Context, conn *Conn, data []byte, userdata any)
)

// Context is a socket endpoint driven by a Loop: a server accepting stream
// connections, a connected client, or a datagram socket. Each live
// connection is tracked as a Conn.
//
// Like the Loop, a Context must only be used from the goroutine calling
// Loop.Spin.
type Context struct {
	loop        *Loop
	logger      *Logger
	userdata    any
	onFDCreated FDCreatedHandler
	onEvent     ConnEventHandler
	onData      DataHandler
	index       map[int]*Conn
	conns       []*Conn
	addr        sockaddr.Address
	local       sockaddr.Address
	fd          int
	readBufSize int
	backlog     int
	mode        Mode
	ownership   LoopOwnership
	closed      bool
}

// NewContext creates an unbound Context with its own Loop, which is closed
// along with the Context.
func NewContext(opts ...ContextOption) (*Context, error) {
	cfg, err := resolveContextOptions(opts)
	if err != nil {
		return nil, err
	}

	loopOpts := cfg.loopOpts
	if cfg.loggerSet {
		loopOpts = append([]LoopOption{WithLogger(cfg.logger)}, loopOpts...)
	}
	loop, err := New(loopOpts...)
	if err != nil {
		return nil, err
	}

	return newContext(loop, LoopOwned, cfg), nil
}

// NewContextWithLoop creates an unbound Context driven by loop, which the
// Context never closes.
func NewContextWithLoop(loop *Loop, opts ...ContextOption) (*Context, error) {
	if loop == nil {
		return nil, fmt.Errorf("%w: nil loop", ErrInvalidArgument)
	}
	cfg, err := resolveContextOptions(opts)
	if err != nil {
		return nil, err
	}
	return newContext(loop, LoopBorrowed, cfg), nil
}

func newContext(loop *Loop, ownership LoopOwnership, cfg *contextOptions) *Context {
	return &Context{
		loop:        loop,
		logger:      cfg.logger,
		userdata:    cfg.userdata,
		onFDCreated: cfg.onFDCreated,
		onEvent:     cfg.onEvent,
		onData:      cfg.onData,
		index:       make(map[int]*Conn),
		fd:          -1,
		readBufSize: cfg.readBufferSize,
		backlog:     cfg.backlog,
		mode:        ModeUnbound,
		ownership:   ownership,
	}
}

// Mode returns the committed mode.
func (c *Context) Mode() Mode { return c.mode }

// Loop returns the Loop driving the Context.
func (c *Context) Loop() *Loop { return c.loop }

// Ownership reports whether the Context owns its Loop.
func (c *Context) Ownership() LoopOwnership { return c.ownership }

// FD returns the socket of the Context, or -1 if there is none.
func (c *Context) FD() int { return c.fd }

// Addr returns the address passed to Listen, Connect, Bind or
// BroadcastFrom.
func (c *Context) Addr() sockaddr.Address { return c.addr }

// LocalAddr returns the address the socket is actually bound to, which
// differs from Addr when binding to port 0.
func (c *Context) LocalAddr() sockaddr.Address { return c.local }

// Userdata returns the value passed to every handler.
func (c *Context) Userdata() any { return c.userdata }

// Conns returns the live connections, in the order they were added.
func (c *Context) Conns() []*Conn { return slices.Clone(c.conns) }

// Len returns the number of live connections.
func (c *Context) Len() int { return len(c.conns) }

// FindConn returns the live connection using fd.
func (c *Context) FindConn(fd int) (*Conn, bool) {
	conn, ok := c.index[fd]
	return conn, ok
}

// SetFDCreatedHandler replaces the FDCreatedHandler, nil disables it.
func (c *Context) SetFDCreatedHandler(fn FDCreatedHandler) { c.onFDCreated = fn }

// SetEventHandler replaces the ConnEventHandler, nil disables it.
func (c *Context) SetEventHandler(fn ConnEventHandler) { c.onEvent = fn }

// SetDataHandler replaces the DataHandler, nil disables it.
func (c *Context) SetDataHandler(fn DataHandler) { c.onData = fn }

func (c *Context) fireEvent(event ConnEvent, conn *Conn) {
	if c.onEvent != nil {
		c.onEvent(c, event, conn, c.userdata)
	}
}

func (c *Context) fireFDCreated(fd int) {
	if c.onFDCreated != nil {
		c.onFDCreated(c, fd, c.userdata)
	}
}

// checkTransition validates a transition out of ModeUnbound.
func (c *Context) checkTransition(addr sockaddr.Address, needAddr bool) error {
	if c.closed {
		return ErrClosed
	}
	if c.mode != ModeUnbound {
		return fmt.Errorf("%w: context is already in %s mode", ErrInvalidState, c.mode)
	}
	if needAddr && addr.IsZero() {
		return fmt.Errorf("%w: zero address", ErrInvalidArgument)
	}
	return nil
}

func (c *Context) socket(domain, typ int, nonblock bool) (int, error) {
	fd, err := openSocket(domain, typ, nonblock)
	if err != nil {
		logSyscall(c.logger.Err(), "socket", -1, err)
		return -1, fmt.Errorf("%w: %w", ErrResourceExhausted, os.NewSyscallError("socket", err))
	}
	c.fireFDCreated(fd)
	return fd, nil
}

// fail closes fd, logs and wraps err as a syscall failure.
func (c *Context) fail(fd int, call string, err error) error {
	_ = closeFD(fd)
	logSyscall(c.logger.Err(), call, fd, err)
	return os.NewSyscallError(call, err)
}

// attach registers conn with the loop and starts tracking it.
func (c *Context) attach(conn *Conn) error {
	if err := c.loop.Add(conn.fd, EventIn, conn.handle, nil); err != nil {
		return err
	}
	c.conns = append(c.conns, conn)
	c.index[conn.fd] = conn
	return nil
}

// Listen binds a listening stream socket to addr, and accepts connections
// from within Loop.Spin.
func (c *Context) Listen(addr sockaddr.Address) error {
	if err := c.checkTransition(addr, true); err != nil {
		return err
	}

	fd, err := c.socket(addr.Family().Domain(), unix.SOCK_STREAM, true)
	if err != nil {
		return err
	}
	if err := enableSockopt(fd, unix.SO_REUSEADDR); err != nil {
		return c.fail(fd, "setsockopt", err)
	}
	if err := unix.Bind(fd, addr.Sockaddr()); err != nil {
		return c.fail(fd, "bind", err)
	}
	if err := unix.Listen(fd, c.backlog); err != nil {
		unlinkUnixPath(addr)
		return c.fail(fd, "listen", err)
	}
	local, err := localAddr(fd)
	if err != nil {
		unlinkUnixPath(addr)
		return c.fail(fd, "getsockname", err)
	}
	if err := c.loop.Add(fd, EventIn, c.handleAccept, nil); err != nil {
		unlinkUnixPath(addr)
		_ = closeFD(fd)
		return err
	}

	c.fd = fd
	c.addr = addr
	c.local = local
	c.mode = ModeServer
	return nil
}

func (c *Context) handleAccept(fd int, _ FDEvents, _ any) {
	nfd, sa, err := acceptFD(fd)
	if err != nil {
		if err == unix.EAGAIN {
			logSyscall(c.logger.Debug(), "accept4", fd, err)
		} else {
			logSyscall(c.logger.Warning().Limit(), "accept4", fd, err)
		}
		return
	}

	var peer sockaddr.Address
	if sa != nil {
		peer, _ = sockaddr.FromSockaddr(sa)
	}
	local, _ := localAddr(nfd)

	conn := c.newConn(nfd, local, peer, false)
	if err := c.attach(conn); err != nil {
		_ = closeFD(nfd)
		return
	}
	c.fireEvent(ConnEventConnected, conn)
}

// Connect connects a stream socket to addr. The connect itself blocks, after
// which the socket is non-blocking and driven by Loop.Spin.
func (c *Context) Connect(addr sockaddr.Address) error {
	if err := c.checkTransition(addr, true); err != nil {
		return err
	}

	fd, err := c.socket(addr.Family().Domain(), unix.SOCK_STREAM, false)
	if err != nil {
		return err
	}
	if err := connectFD(fd, addr.Sockaddr()); err != nil {
		return c.fail(fd, "connect", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return c.fail(fd, "fcntl", err)
	}
	local, _ := localAddr(fd)

	conn := c.newConn(fd, local, addr, false)
	if err := c.attach(conn); err != nil {
		_ = closeFD(fd)
		return err
	}

	c.fd = fd
	c.addr = addr
	c.local = local
	c.mode = ModeClient
	c.fireEvent(ConnEventConnected, conn)
	return nil
}

// Bind binds a datagram socket to addr, with SO_REUSEADDR (and, for inet
// families, SO_REUSEPORT).
func (c *Context) Bind(addr sockaddr.Address) error {
	if err := c.checkTransition(addr, true); err != nil {
		return err
	}
	return c.openDatagram(addr.Family().Domain(), addr, func(fd int) (string, error) {
		if err := enableSockopt(fd, unix.SO_REUSEADDR); err != nil {
			return "setsockopt", err
		}
		if addr.Family() != sockaddr.FamilyUnix {
			if err := enableSockopt(fd, unix.SO_REUSEPORT); err != nil {
				return "setsockopt", err
			}
		}
		return "", nil
	})
}

// Broadcast creates an unbound IPv4 datagram socket with SO_BROADCAST.
func (c *Context) Broadcast() error {
	if err := c.checkTransition(sockaddr.Address{}, false); err != nil {
		return err
	}
	return c.openDatagram(unix.AF_INET, sockaddr.Address{}, func(fd int) (string, error) {
		if err := enableSockopt(fd, unix.SO_BROADCAST); err != nil {
			return "setsockopt", err
		}
		return "", nil
	})
}

// BroadcastFrom is like Broadcast, but binds the socket to addr, with
// SO_REUSEADDR.
func (c *Context) BroadcastFrom(addr sockaddr.Address) error {
	if err := c.checkTransition(addr, true); err != nil {
		return err
	}
	return c.openDatagram(addr.Family().Domain(), addr, func(fd int) (string, error) {
		if err := enableSockopt(fd, unix.SO_BROADCAST); err != nil {
			return "setsockopt", err
		}
		if err := enableSockopt(fd, unix.SO_REUSEADDR); err != nil {
			return "setsockopt", err
		}
		return "", nil
	})
}

func (c *Context) openDatagram(domain int, addr sockaddr.Address, setup func(fd int) (string, error)) error {
	fd, err := c.socket(domain, unix.SOCK_DGRAM, true)
	if err != nil {
		return err
	}
	if call, err := setup(fd); err != nil {
		return c.fail(fd, call, err)
	}
	if !addr.IsZero() {
		if err := unix.Bind(fd, addr.Sockaddr()); err != nil {
			return c.fail(fd, "bind", err)
		}
	}
	local, _ := localAddr(fd)

	conn := c.newConn(fd, local, sockaddr.Address{}, true)
	if err := c.attach(conn); err != nil {
		unlinkUnixPath(addr)
		_ = closeFD(fd)
		return err
	}

	c.fd = fd
	c.addr = addr
	c.local = local
	c.mode = ModeDatagram
	c.fireEvent(ConnEventConnected, conn)
	return nil
}

// Send writes buf to the connection of a client, or to every connection of
// a server not pending removal, stopping at the first failure. Partial writes are continued; a
// full socket buffer fails with an error matching unix.EAGAIN.
func (c *Context) Send(buf []byte) error {
	if c.closed {
		return ErrClosed
	}
	switch c.mode {
	case ModeClient:
		if len(c.conns) == 0 {
			return fmt.Errorf("%w: not connected", ErrInvalidState)
		}
		return c.sendAll(c.conns[0], buf)
	case ModeServer:
		for _, conn := range c.Conns() {
			if conn.pending {
				continue
			}
			if err := c.sendAll(conn, buf); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: send requires a client or server context", ErrInvalidState)
	}
}

func (c *Context) sendAll(conn *Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := sendFD(conn.fd, buf, nil)
		if err != nil {
			if err != unix.EAGAIN {
				logSyscall(c.logger.Warning().Limit(), "sendmsg", conn.fd, err)
			}
			return os.NewSyscallError("sendmsg", err)
		}
		if n <= 0 {
			return ErrIO
		}
		buf = buf[n:]
	}
	return nil
}

// SendTo sends buf as a single datagram to addr. A datagram that is not
// sent whole fails with ErrIO.
func (c *Context) SendTo(addr sockaddr.Address, buf []byte) error {
	if c.closed {
		return ErrClosed
	}
	if c.mode != ModeDatagram || len(c.conns) == 0 {
		return fmt.Errorf("%w: send to requires a datagram context", ErrInvalidState)
	}
	if addr.IsZero() {
		return fmt.Errorf("%w: zero address", ErrInvalidArgument)
	}
	fd := c.conns[0].fd
	n, err := sendFD(fd, buf, addr.Sockaddr())
	if err != nil {
		logSyscall(c.logger.Warning().Limit(), "sendmsg", fd, err)
		return os.NewSyscallError("sendmsg", err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: sent %d of %d bytes", ErrIO, n, len(buf))
	}
	return nil
}

// RemoveConn stops tracking conn: ConnEventDisconnected is delivered, then
// the socket is unregistered and closed. Removing a Conn that is not (or no
// longer) tracked by c fails with ErrNotFound.
func (c *Context) RemoveConn(conn *Conn) error {
	if conn == nil || conn.ctx != c {
		return ErrNotFound
	}
	i := slices.Index(c.conns, conn)
	if i < 0 {
		return ErrNotFound
	}
	c.conns = slices.Delete(c.conns, i, i+1)
	delete(c.index, conn.fd)
	conn.pending = true

	c.fireEvent(ConnEventDisconnected, conn)

	fd := conn.fd
	conn.ctx = nil
	conn.fd = -1
	if c.mode != ModeServer && c.fd == fd {
		c.fd = -1
	}

	var errs []error
	if err := c.loop.Remove(fd); err != nil && !errors.Is(err, ErrNotFound) {
		errs = append(errs, err)
	}
	if err := closeFD(fd); err != nil {
		errs = append(errs, os.NewSyscallError("close", err))
	}
	return errors.Join(errs...)
}

// Disconnect removes every Conn, then closes the listening socket of a
// server. The mode is unchanged.
func (c *Context) Disconnect() error {
	var errs []error
	for _, conn := range c.Conns() {
		if err := c.RemoveConn(conn); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}

	if c.mode == ModeServer && c.fd >= 0 {
		fd := c.fd
		c.fd = -1
		if err := c.loop.Remove(fd); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
		if err := closeFD(fd); err != nil {
			errs = append(errs, os.NewSyscallError("close", err))
		}
	}

	return errors.Join(errs...)
}

// Close disconnects, removes the socket file of a unix domain server, and
// closes the Loop if owned. Calling Close more than once is a no-op.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}

	var errs []error
	if err := c.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	if c.mode == ModeServer {
		unlinkUnixPath(c.addr)
	}
	c.closed = true

	if c.ownership == LoopOwned {
		if err := c.loop.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// unlinkUnixPath removes the socket file of a (non-abstract) unix address.
func unlinkUnixPath(addr sockaddr.Address) {
	if addr.Family() == sockaddr.FamilyUnix && !addr.IsAbstract() && addr.Path() != "" {
		_ = unix.Unlink(addr.Path())
	}
}
