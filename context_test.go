// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/go-reactor/sockaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// connectPair sets up a server and a connected client sharing loop, and
// waits for the server to accept.
func connectPair(t *testing.T, loop *Loop, addr sockaddr.Address, serverOpts ...ContextOption) (server, client *Context, serverEvents, clientEvents *connEvents) {
	t.Helper()
	serverEvents, clientEvents = new(connEvents), new(connEvents)
	server = newTestContext(t, loop, append([]ContextOption{WithEventHandler(serverEvents.handler)}, serverOpts...)...)
	client = newTestContext(t, loop, WithEventHandler(clientEvents.handler))

	require.NoError(t, server.Listen(addr))
	require.NoError(t, client.Connect(server.LocalAddr()))
	assert.Equal(t, 1, clientEvents.connected)

	spinUntil(t, loop, func() bool { return serverEvents.connected == 1 })
	return
}

func TestContext_ping(t *testing.T) {
	loop := newTestLoop(t)

	var received []byte
	server, client, _, _ := connectPair(t, loop, abstractAddr(t), WithDataHandler(func(_ *Context, _ *Conn, data []byte, _ any) {
		received = append(received, data...)
	}))

	assert.Equal(t, ModeServer, server.Mode())
	assert.Equal(t, ModeClient, client.Mode())
	assert.Equal(t, 1, server.Len())
	assert.Equal(t, 1, client.Len())

	require.NoError(t, client.Send([]byte("PING")))
	spinUntil(t, loop, func() bool { return len(received) == 4 })
	assert.Equal(t, "PING", string(received))
	assert.Equal(t, 1, server.Len())
}

func TestContext_clientDisconnect(t *testing.T) {
	loop := newTestLoop(t)
	server, client, serverEvents, clientEvents := connectPair(t, loop, abstractAddr(t))

	clientFD := client.FD()
	require.GreaterOrEqual(t, clientFD, 0)
	_, ok := loop.Find(clientFD)
	require.True(t, ok)

	require.NoError(t, client.Disconnect())
	assert.Equal(t, 1, clientEvents.disconnected)
	assert.Zero(t, client.Len())
	assert.Equal(t, -1, client.FD())
	assert.Equal(t, ModeClient, client.Mode())
	_, ok = loop.Find(clientFD)
	assert.False(t, ok)

	spinUntil(t, loop, func() bool { return serverEvents.disconnected == 1 })
	assert.Zero(t, server.Len())
	assert.True(t, serverEvents.last.PendingRemoval())
	assert.Nil(t, serverEvents.last.Context())
	assert.Equal(t, -1, serverEvents.last.FD())

	// the server keeps listening
	require.GreaterOrEqual(t, server.FD(), 0)
	_, ok = loop.Find(server.FD())
	assert.True(t, ok)
}

func TestContext_serverSend(t *testing.T) {
	loop := newTestLoop(t)
	addr := abstractAddr(t)
	server := newTestContext(t, loop)
	require.NoError(t, server.Listen(addr))

	var got [2][]byte
	for i := range got {
		client := newTestContext(t, loop, WithDataHandler(func(_ *Context, _ *Conn, data []byte, _ any) {
			got[i] = append(got[i], data...)
		}))
		require.NoError(t, client.Connect(addr))
	}
	spinUntil(t, loop, func() bool { return server.Len() == 2 })

	require.NoError(t, server.Send([]byte("hello all")))
	spinUntil(t, loop, func() bool { return len(got[0]) == 9 && len(got[1]) == 9 })
	assert.Equal(t, "hello all", string(got[0]))
	assert.Equal(t, "hello all", string(got[1]))
}

func TestContext_echoLargePayload(t *testing.T) {
	loop := newTestLoop(t)
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	var received []byte
	_, client, _, _ := connectPair(t, loop, abstractAddr(t), WithDataHandler(func(_ *Context, conn *Conn, data []byte, _ any) {
		assert.LessOrEqual(t, len(data), DefaultReadBufferSize)
		assert.Equal(t, data, conn.Data())
		received = append(received, data...)
	}))

	require.NoError(t, client.Send(payload))
	spinUntil(t, loop, func() bool { return len(received) == len(payload) })
	assert.Equal(t, payload, received)
}

func TestContext_inet(t *testing.T) {
	loop := newTestLoop(t)
	server, client, serverEvents, _ := connectPair(t, loop, sockaddr.MustParse("inet:127.0.0.1:0"))

	local := server.LocalAddr()
	assert.Equal(t, sockaddr.FamilyInet, local.Family())
	assert.NotZero(t, local.Port())
	assert.Equal(t, 0, server.Addr().Port())

	conn := serverEvents.last
	require.NotNil(t, conn)
	assert.Equal(t, client.LocalAddr(), conn.PeerAddr())
	assert.Equal(t, local, conn.LocalAddr())
	assert.Equal(t, local, client.Addr())

	found, ok := server.FindConn(conn.FD())
	require.True(t, ok)
	assert.Same(t, conn, found)
	assert.Same(t, server, conn.Context())
}

func TestContext_datagram(t *testing.T) {
	loop := newTestLoop(t)

	var (
		received []byte
		from     sockaddr.Address
	)
	receiver := newTestContext(t, loop, WithDataHandler(func(_ *Context, conn *Conn, data []byte, _ any) {
		received = append([]byte(nil), data...)
		from = conn.PeerAddr()
	}))
	sender := newTestContext(t, loop)

	addr := sockaddr.MustParse("inet:127.0.0.1:0")
	require.NoError(t, receiver.BroadcastFrom(addr))
	require.NoError(t, sender.BroadcastFrom(addr))
	assert.Equal(t, ModeDatagram, receiver.Mode())
	assert.Equal(t, 1, receiver.Len())
	assert.NotZero(t, receiver.LocalAddr().Port())

	require.NoError(t, sender.SendTo(receiver.LocalAddr(), []byte("hello")))
	spinUntil(t, loop, func() bool { return received != nil })
	assert.Equal(t, "hello", string(received))
	assert.Equal(t, sender.LocalAddr(), from)
}

func TestContext_Bind(t *testing.T) {
	loop := newTestLoop(t)
	var received []byte
	receiver := newTestContext(t, loop, WithDataHandler(func(_ *Context, _ *Conn, data []byte, _ any) {
		received = append([]byte(nil), data...)
	}))
	sender := newTestContext(t, loop)

	require.NoError(t, receiver.Bind(abstractAddr(t)))
	require.NoError(t, sender.Bind(abstractAddr(t)))
	require.NoError(t, sender.SendTo(receiver.Addr(), []byte("dgram")))
	spinUntil(t, loop, func() bool { return received != nil })
	assert.Equal(t, "dgram", string(received))

	reuse, err := unix.GetsockoptInt(receiver.FD(), unix.SOL_SOCKET, unix.SO_REUSEADDR)
	require.NoError(t, err)
	assert.NotZero(t, reuse)
}

func TestContext_Broadcast(t *testing.T) {
	loop := newTestLoop(t)
	ctx := newTestContext(t, loop)
	require.NoError(t, ctx.Broadcast())
	assert.Equal(t, ModeDatagram, ctx.Mode())
	assert.True(t, ctx.Addr().IsZero())

	v, err := unix.GetsockoptInt(ctx.FD(), unix.SOL_SOCKET, unix.SO_BROADCAST)
	require.NoError(t, err)
	assert.NotZero(t, v)

	require.ErrorIs(t, ctx.Send([]byte("x")), ErrInvalidState)
}

func TestContext_RemoveConn(t *testing.T) {
	loop := newTestLoop(t)
	server, client, serverEvents, _ := connectPair(t, loop, abstractAddr(t))

	conn := serverEvents.last
	require.NotNil(t, conn)
	fd := conn.FD()

	require.NoError(t, server.RemoveConn(conn))
	assert.Equal(t, 1, serverEvents.disconnected)
	assert.Zero(t, server.Len())
	_, ok := loop.Find(fd)
	assert.False(t, ok)

	require.ErrorIs(t, server.RemoveConn(conn), ErrNotFound)
	assert.Equal(t, 1, serverEvents.disconnected)
	require.ErrorIs(t, server.RemoveConn(nil), ErrNotFound)

	// not ours
	require.ErrorIs(t, server.RemoveConn(client.Conns()[0]), ErrNotFound)
}

func TestContext_removeFromHandler(t *testing.T) {
	loop := newTestLoop(t)
	var events connEvents
	_, client, _, _ := connectPair(t, loop, abstractAddr(t), WithDataHandler(func(ctx *Context, conn *Conn, _ []byte, _ any) {
		require.NoError(t, ctx.RemoveConn(conn))
	}))
	client.SetEventHandler(events.handler)

	require.NoError(t, client.Send([]byte("bye")))
	spinUntil(t, loop, func() bool { return events.disconnected == 1 })
	assert.Zero(t, client.Len())
}

func TestContext_transitions(t *testing.T) {
	loop := newTestLoop(t)
	ctx := newTestContext(t, loop)
	assert.Equal(t, ModeUnbound, ctx.Mode())
	assert.Equal(t, LoopBorrowed, ctx.Ownership())
	assert.Same(t, loop, ctx.Loop())
	assert.Equal(t, -1, ctx.FD())

	require.ErrorIs(t, ctx.Listen(sockaddr.Address{}), ErrInvalidArgument)
	require.ErrorIs(t, ctx.Send([]byte("x")), ErrInvalidState)
	require.ErrorIs(t, ctx.SendTo(abstractAddr(t), []byte("x")), ErrInvalidState)

	// nothing is listening
	err := ctx.Connect(abstractAddr(t))
	require.ErrorIs(t, err, unix.ECONNREFUSED)
	assert.Equal(t, ModeUnbound, ctx.Mode())
	assert.Zero(t, ctx.Len())
	assert.Zero(t, loop.Len())

	require.NoError(t, ctx.Listen(abstractAddr(t)))
	assert.Equal(t, ModeServer, ctx.Mode())

	for _, fn := range []func() error{
		func() error { return ctx.Listen(abstractAddr(t)) },
		func() error { return ctx.Connect(abstractAddr(t)) },
		func() error { return ctx.Bind(abstractAddr(t)) },
		ctx.Broadcast,
		func() error { return ctx.BroadcastFrom(abstractAddr(t)) },
	} {
		require.ErrorIs(t, fn(), ErrInvalidState)
	}
	require.ErrorIs(t, ctx.SendTo(abstractAddr(t), []byte("x")), ErrInvalidState)
	assert.Equal(t, ModeServer, ctx.Mode())
}

func TestContext_FDCreatedHandler(t *testing.T) {
	loop := newTestLoop(t)
	var (
		created []int
		gotData any
	)
	ctx := newTestContext(t, loop,
		WithUserdata("ud"),
		WithFDCreatedHandler(func(ctx *Context, fd int, userdata any) {
			created = append(created, fd)
			gotData = userdata
			require.NoError(t, unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1))
		}),
	)
	require.NoError(t, ctx.Listen(sockaddr.MustParse("inet:127.0.0.1:0")))
	require.Equal(t, []int{ctx.FD()}, created)
	assert.Equal(t, "ud", gotData)
	assert.Equal(t, "ud", ctx.Userdata())

	v, err := unix.GetsockoptInt(ctx.FD(), unix.SOL_SOCKET, unix.SO_KEEPALIVE)
	require.NoError(t, err)
	assert.NotZero(t, v)
}

func TestContext_handlerSetters(t *testing.T) {
	loop := newTestLoop(t)
	server := newTestContext(t, loop)
	client := newTestContext(t, loop)
	addr := abstractAddr(t)

	var events connEvents
	var data []byte
	server.SetEventHandler(events.handler)
	server.SetDataHandler(func(_ *Context, _ *Conn, b []byte, _ any) { data = append(data, b...) })
	var created int
	client.SetFDCreatedHandler(func(*Context, int, any) { created++ })

	require.NoError(t, server.Listen(addr))
	require.NoError(t, client.Connect(addr))
	assert.Equal(t, 1, created)
	spinUntil(t, loop, func() bool { return events.connected == 1 })

	require.NoError(t, client.Send([]byte("abc")))
	spinUntil(t, loop, func() bool { return len(data) == 3 })
	assert.Equal(t, 1, events.data)

	server.SetEventHandler(nil)
	server.SetDataHandler(nil)
	require.NoError(t, client.Send([]byte("def")))
	spinFor(t, loop, 20*time.Millisecond)
	assert.Equal(t, "abc", string(data))
	assert.Equal(t, 1, events.data)
}

func TestContext_Close_unixPath(t *testing.T) {
	loop := newTestLoop(t)
	name := fmt.Sprintf("reactor-%d.sock", os.Getpid())
	path := filepath.Join(sockaddr.UnixDir, name)
	_ = os.Remove(path)
	addr, err := sockaddr.Parse("unix:" + name)
	require.NoError(t, err)
	require.Equal(t, path, addr.Path())

	server, _, serverEvents, _ := connectPair(t, loop, addr)
	_, err = os.Stat(path)
	require.NoError(t, err)

	listenFD := server.FD()
	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	assert.Equal(t, 1, serverEvents.disconnected)
	assert.Zero(t, server.Len())
	_, ok := loop.Find(listenFD)
	assert.False(t, ok)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.ErrorIs(t, server.Listen(addr), ErrClosed)
	require.ErrorIs(t, server.Send(nil), ErrClosed)
}

func TestNewContext_ownsLoop(t *testing.T) {
	ctx, err := NewContext(WithContextLogger(nil), WithLoopOptions(WithMaxEvents(4)))
	require.NoError(t, err)
	assert.Equal(t, LoopOwned, ctx.Ownership())
	loop := ctx.Loop()
	require.NotNil(t, loop)
	assert.Nil(t, loop.logger)

	require.NoError(t, ctx.Listen(abstractAddr(t)))
	require.NoError(t, ctx.Close())
	require.ErrorIs(t, loop.Spin(), ErrClosed)
}

func TestNewContext_invalidOptions(t *testing.T) {
	_, err := NewContext(WithReadBufferSize(0))
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewContextWithLoop(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	loop := newTestLoop(t)
	_, err = NewContextWithLoop(loop, WithBacklog(-1))
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewContextWithLoop(loop, nil, WithReadBufferSize(1))
	require.NoError(t, err)
}

func TestContext_borrowedLoopClosedFirst(t *testing.T) {
	loop, err := New(WithLogger(nil))
	require.NoError(t, err)
	server, _, _, _ := connectPair(t, loop, abstractAddr(t))
	require.NoError(t, loop.Close())
	require.NoError(t, server.Close())
}

func TestModeAndConnEvent_String(t *testing.T) {
	assert.Equal(t, "unbound", ModeUnbound.String())
	assert.Equal(t, "server", ModeServer.String())
	assert.Equal(t, "client", ModeClient.String())
	assert.Equal(t, "datagram", ModeDatagram.String())
	assert.Equal(t, "Mode(9)", Mode(9).String())
	assert.Equal(t, "connected", ConnEventConnected.String())
	assert.Equal(t, "disconnected", ConnEventDisconnected.String())
	assert.Equal(t, "data", ConnEventData.String())
	assert.Equal(t, "ConnEvent(9)", ConnEvent(9).String())
}

func TestContext_emptyDatagram(t *testing.T) {
	loop := newTestLoop(t)
	var (
		events   connEvents
		received []byte
	)
	receiver := newTestContext(t, loop,
		WithEventHandler(events.handler),
		WithDataHandler(func(_ *Context, _ *Conn, data []byte, _ any) {
			received = append([]byte(nil), data...)
		}),
	)
	sender := newTestContext(t, loop)
	require.NoError(t, receiver.Bind(abstractAddr(t)))
	require.NoError(t, sender.Bind(abstractAddr(t)))

	require.NoError(t, sender.SendTo(receiver.Addr(), nil))
	spinFor(t, loop, 50*time.Millisecond)
	assert.Equal(t, 1, receiver.Len())
	assert.False(t, receiver.Conns()[0].PendingRemoval())
	assert.Zero(t, events.disconnected)
	assert.Zero(t, events.data)

	// the socket is still live
	require.NoError(t, sender.SendTo(receiver.Addr(), []byte("after")))
	spinUntil(t, loop, func() bool { return received != nil })
	assert.Equal(t, "after", string(received))
	assert.Equal(t, 1, events.data)
	assert.Equal(t, 1, receiver.Len())
	assert.Zero(t, events.disconnected)
}

func TestConn_handle_removesOnErrorOrHangup(t *testing.T) {
	for _, events := range []FDEvents{
		EventError,
		EventHangup,
		EventIn | EventError,
		EventOut | EventHangup,
	} {
		t.Run(events.String(), func(t *testing.T) {
			loop := newTestLoop(t)
			server, _, serverEvents, _ := connectPair(t, loop, abstractAddr(t))
			conn := serverEvents.last
			require.NotNil(t, conn)
			fd := conn.FD()

			conn.handle(fd, events, nil)

			assert.Zero(t, server.Len())
			assert.Equal(t, 1, serverEvents.disconnected)
			assert.Nil(t, conn.Context())
			_, ok := loop.Find(fd)
			assert.False(t, ok)
		})
	}
}

func TestConn_handle_hangupWithInput(t *testing.T) {
	loop := newTestLoop(t)
	server, client, serverEvents, _ := connectPair(t, loop, abstractAddr(t))
	conn := serverEvents.last
	require.NotNil(t, conn)

	require.NoError(t, client.Send([]byte("last")))
	conn.handle(conn.FD(), EventIn|EventHangup, nil)

	assert.Equal(t, "last", string(conn.Data()))
	assert.Equal(t, 1, server.Len())
	assert.Zero(t, serverEvents.disconnected)
}

func TestContext_Send_fullBuffer(t *testing.T) {
	loop := newTestLoop(t)
	_, client, _, _ := connectPair(t, loop, abstractAddr(t))

	payload := make([]byte, 1<<20)
	var err error
	for range 64 {
		if err = client.Send(payload); err != nil {
			break
		}
	}
	require.ErrorIs(t, err, unix.EAGAIN)
	var sysErr *os.SyscallError
	require.ErrorAs(t, err, &sysErr)
	assert.Equal(t, "sendmsg", sysErr.Syscall)
	assert.Equal(t, 1, client.Len())
}

func TestContext_Send_skipsPendingRemoval(t *testing.T) {
	loop := newTestLoop(t)
	server, client, serverEvents, _ := connectPair(t, loop, abstractAddr(t))
	first := serverEvents.last
	require.NotNil(t, first)

	var received []byte
	other := newTestContext(t, loop, WithDataHandler(func(_ *Context, _ *Conn, data []byte, _ any) {
		received = append(received, data...)
	}))
	require.NoError(t, other.Connect(server.LocalAddr()))
	spinUntil(t, loop, func() bool { return serverEvents.connected == 2 })

	// the first peer has gone, writing to it would fail with EPIPE
	require.NoError(t, client.Close())
	first.pending = true

	require.NoError(t, server.Send([]byte("x")))
	spinUntil(t, loop, func() bool { return len(received) == 1 })
	assert.Equal(t, "x", string(received))
}

