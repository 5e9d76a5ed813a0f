// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package sockaddr parses and formats the textual socket addresses used by
// the reactor, and converts them to and from golang.org/x/sys/unix sockaddrs.
//
// The text forms are:
//
//	inet:127.0.0.1:9000
//	inet6:::1:9000
//	unix:/run/app.sock
//	unix:app.sock        (equivalent to unix:/tmp/app.sock)
//	unix:@app            (linux abstract namespace)
//
// An [Address] is a small comparable value, safe to copy and to use as a
// map key.
package sockaddr
