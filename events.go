// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"strconv"
	"strings"
)

// FDEvents is the portable readiness mask passed to Loop.Add and delivered
// to an FDCallback. The values are fixed and independent of the platform.
type FDEvents uint32

const (
	// EventIn indicates the file descriptor is ready for reading.
	EventIn FDEvents = 0x001
	// EventPri indicates urgent (out-of-band) data is available.
	EventPri FDEvents = 0x002
	// EventOut indicates the file descriptor is ready for writing.
	EventOut FDEvents = 0x004
	// EventError indicates an error condition on the file descriptor.
	EventError FDEvents = 0x008
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup FDEvents = 0x010
)

var eventNames = [...]struct {
	bit  FDEvents
	name string
}{
	{EventIn, "in"},
	{EventPri, "pri"},
	{EventOut, "out"},
	{EventError, "error"},
	{EventHangup, "hangup"},
}

// String returns the set bits joined by "|", e.g. "in|hangup".
func (x FDEvents) String() string {
	if x == 0 {
		return "none"
	}
	var b strings.Builder
	for _, v := range eventNames {
		if x&v.bit == 0 {
			continue
		}
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString(v.name)
		x &^= v.bit
	}
	if x != 0 {
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString("0x")
		b.WriteString(strconv.FormatUint(uint64(x), 16))
	}
	return b.String()
}
