// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package promreactor exports reactor Loop metrics to Prometheus.
package promreactor

import (
	reactor "github.com/joeycumines/go-reactor"
	"github.com/prometheus/client_golang/prometheus"
)

// Source provides metric snapshots, and is implemented by *reactor.Loop.
type Source interface {
	Metrics() reactor.Metrics
}

// Config configures a Collector.
type Config struct {
	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Namespace is the metrics namespace (default: "reactor").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// Collector is a prometheus.Collector reading a Source on each scrape.
//
// Metrics collected:
//   - reactor_spins_total: Counter of loop waits
//   - reactor_dispatched_total: Counter of callbacks invoked
//   - reactor_wakeups_total: Counter of wakeups
//   - reactor_unmatched_events_total: Counter of readiness events without a registration
//   - reactor_registered_fds: Gauge of registered file descriptors
type Collector struct {
	source     Source
	spins      *prometheus.Desc
	dispatched *prometheus.Desc
	wakeups    *prometheus.Desc
	unmatched  *prometheus.Desc
	registered *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector for source.
func NewCollector(source Source, opts ...Option) *Collector {
	config := Config{Namespace: "reactor"}
	for _, opt := range opts {
		opt(&config)
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(config.Namespace, config.Subsystem, name),
			help,
			nil,
			config.ConstLabels,
		)
	}

	return &Collector{
		source:     source,
		spins:      desc("spins_total", "Total number of loop waits"),
		dispatched: desc("dispatched_total", "Total number of readiness callbacks invoked"),
		wakeups:    desc("wakeups_total", "Total number of loop wakeups"),
		unmatched:  desc("unmatched_events_total", "Total number of readiness events for unregistered descriptors"),
		registered: desc("registered_fds", "Number of registered file descriptors"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.spins
	ch <- c.dispatched
	ch <- c.wakeups
	ch <- c.unmatched
	ch <- c.registered
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.Metrics()
	ch <- prometheus.MustNewConstMetric(c.spins, prometheus.CounterValue, float64(m.Spins))
	ch <- prometheus.MustNewConstMetric(c.dispatched, prometheus.CounterValue, float64(m.Dispatched))
	ch <- prometheus.MustNewConstMetric(c.wakeups, prometheus.CounterValue, float64(m.Wakeups))
	ch <- prometheus.MustNewConstMetric(c.unmatched, prometheus.CounterValue, float64(m.Unmatched))
	ch <- prometheus.MustNewConstMetric(c.registered, prometheus.GaugeValue, float64(m.Registered))
}

// Register creates a Collector for source, and registers it with reg
// (prometheus.DefaultRegisterer if nil).
func Register(reg prometheus.Registerer, source Source, opts ...Option) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := NewCollector(source, opts...)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}
