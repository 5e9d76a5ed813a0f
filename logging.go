// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type accepted by this package.
// A nil *Logger is valid, and discards everything.
type Logger = logiface.Logger[logiface.Event]

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(NewLogger(os.Stderr, logiface.LevelWarning))
}

// NewLogger returns a JSON (stumpy) logger writing to w, at the given level.
// Calls to logiface's Builder.Limit are rate limited per call site.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
		stumpy.L.WithCategoryRateLimits(map[time.Duration]int{
			time.Second: 10,
			time.Minute: 100,
		}),
	).Logger()
}

// SetLogger replaces the package default logger, used by every Loop and
// Context not configured with their own. A nil logger disables logging.
func SetLogger(logger *Logger) {
	defaultLogger.Store(logger)
}

// DefaultLogger returns the package default logger, which writes warnings
// and above to stderr unless replaced via SetLogger.
func DefaultLogger() *Logger {
	return defaultLogger.Load()
}

// logSyscall logs a failed system call with the fields shared by every
// such record.
func logSyscall(b *logiface.Builder[logiface.Event], call string, fd int, err error) {
	b.Str("call", call).
		Int("fd", fd).
		Err(err).
		Log("syscall failed")
}
