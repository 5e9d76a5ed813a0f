// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"fmt"
)

const (
	// DefaultMaxEvents is the number of readiness events handled per Spin.
	DefaultMaxEvents = 16

	// DefaultReadBufferSize is the per-connection read buffer capacity.
	DefaultReadBufferSize = 512

	// DefaultBacklog is the listen backlog used by Context.Listen.
	DefaultBacklog = 16
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger    *Logger
	maxEvents int
	loggerSet bool
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the logger used by the Loop, overriding DefaultLogger.
// A nil logger disables logging for the Loop.
func WithLogger(logger *Logger) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		opts.loggerSet = true
		return nil
	}}
}

// WithMaxEvents sets the maximum number of readiness events dispatched by a
// single Spin. Defaults to DefaultMaxEvents.
func WithMaxEvents(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n <= 0 {
			return fmt.Errorf("%w: max events must be positive, got %d", ErrInvalidArgument, n)
		}
		opts.maxEvents = n
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		maxEvents: DefaultMaxEvents,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.loggerSet {
		cfg.logger = DefaultLogger()
	}
	return cfg, nil
}

// contextOptions holds configuration options for Context creation.
type contextOptions struct {
	logger         *Logger
	userdata       any
	onFDCreated    FDCreatedHandler
	onEvent        ConnEventHandler
	onData         DataHandler
	loopOpts       []LoopOption
	readBufferSize int
	backlog        int
	loggerSet      bool
}

// --- Context Options ---

// ContextOption configures a Context instance.
type ContextOption interface {
	applyContext(*contextOptions) error
}

// contextOptionImpl implements ContextOption.
type contextOptionImpl struct {
	applyContextFunc func(*contextOptions) error
}

func (c *contextOptionImpl) applyContext(opts *contextOptions) error {
	return c.applyContextFunc(opts)
}

// WithContextLogger sets the logger used by the Context, overriding
// DefaultLogger. A nil logger disables logging for the Context.
func WithContextLogger(logger *Logger) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.logger = logger
		opts.loggerSet = true
		return nil
	}}
}

// WithReadBufferSize sets the read buffer capacity of each Conn.
func WithReadBufferSize(n int) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		if n <= 0 {
			return fmt.Errorf("%w: read buffer size must be positive, got %d", ErrInvalidArgument, n)
		}
		opts.readBufferSize = n
		return nil
	}}
}

// WithBacklog sets the listen backlog used by Context.Listen.
func WithBacklog(n int) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		if n <= 0 {
			return fmt.Errorf("%w: backlog must be positive, got %d", ErrInvalidArgument, n)
		}
		opts.backlog = n
		return nil
	}}
}

// WithUserdata sets the value passed to every handler of the Context.
func WithUserdata(userdata any) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.userdata = userdata
		return nil
	}}
}

// WithFDCreatedHandler sets the handler invoked for each socket the Context
// creates, before it is bound or connected.
func WithFDCreatedHandler(fn FDCreatedHandler) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.onFDCreated = fn
		return nil
	}}
}

// WithEventHandler sets the connected / disconnected / data handler.
func WithEventHandler(fn ConnEventHandler) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.onEvent = fn
		return nil
	}}
}

// WithDataHandler sets the handler receiving the bytes read from a Conn.
func WithDataHandler(fn DataHandler) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.onData = fn
		return nil
	}}
}

// WithLoopOptions passes options to the Loop created by NewContext. It is
// ignored by NewContextWithLoop.
func WithLoopOptions(opts ...LoopOption) ContextOption {
	return &contextOptionImpl{func(o *contextOptions) error {
		o.loopOpts = append(o.loopOpts, opts...)
		return nil
	}}
}

// resolveContextOptions applies ContextOption instances to contextOptions.
func resolveContextOptions(opts []ContextOption) (*contextOptions, error) {
	cfg := &contextOptions{
		readBufferSize: DefaultReadBufferSize,
		backlog:        DefaultBacklog,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyContext(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.loggerSet {
		cfg.logger = DefaultLogger()
	}
	return cfg, nil
}
