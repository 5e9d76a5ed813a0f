// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package reactor is a minimal, single-threaded I/O reactor for Linux, with
// a connection-oriented socket layer built on top of it.
//
// # Architecture
//
// A [Loop] wraps an epoll instance. File descriptors are registered with
// [Loop.Add], and each call to [Loop.Spin] waits for readiness and invokes
// the callbacks of the ready descriptors. Three resource types are built on
// the Loop:
//   - [Context], a server, client or datagram socket, which turns readiness
//     into connected, disconnected and data notifications for each [Conn]
//   - [Timer], a one-shot or periodic timerfd
//   - [Event], an eventfd that may be triggered from any goroutine
//
// Addresses are parsed by the sockaddr subpackage, e.g. "inet:127.0.0.1:80",
// "inet6:::1:80", "unix:/run/app.sock" or "unix:@abstract".
//
// # Thread Safety
//
// Registrations are not locked. One goroutine calls [Loop.Spin], and every
// other method must be called from that goroutine, normally from within
// callbacks. The exceptions are [Loop.Wakeup], [Loop.Metrics] and
// [Event.Trigger], which may be called from any goroutine, even while the
// Loop or Event is being closed.
//
// # Usage
//
//	ctx, err := reactor.NewContext(
//	    reactor.WithDataHandler(func(ctx *reactor.Context, conn *reactor.Conn, data []byte, _ any) {
//	        _ = ctx.Send(data)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	if err := ctx.Listen(sockaddr.MustParse("inet:127.0.0.1:9000")); err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    if err := ctx.Loop().Spin(); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Logging
//
// Diagnostics are logged via [github.com/joeycumines/logiface], by default
// as JSON to stderr, at warning level and above. See [SetLogger],
// [WithLogger] and [WithContextLogger].
package reactor
