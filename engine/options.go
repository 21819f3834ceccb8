package engine

import (
	"fmt"
	"runtime"
	"time"

	"github.com/voxlogica-project/voxlogica2/emit"
)

// Option configures an Engine at construction time, following the
// teacher's functional-options idiom: each Option validates and mutates an
// engineConfig, returning an error on invalid input instead of panicking.
type Option func(*engineConfig) error

type engineConfig struct {
	maxConcurrent       int
	queueDepth          int
	defaultNodeTimeout  time.Duration
	runWallClockBudget  time.Duration
	runtimeVersion      string
	allowedRoots        []string
	metrics             *Metrics
	emitter             emit.Emitter
}

func defaultConfig() engineConfig {
	return engineConfig{
		maxConcurrent:      runtime.GOMAXPROCS(0),
		queueDepth:         1024,
		defaultNodeTimeout: 0, // no timeout
		runtimeVersion:     "1",
		emitter:            emit.NewNullEmitter(),
	}
}

// WithMaxConcurrent sets the bounded worker pool size (spec §5 "a bounded
// worker pool of W workers").
func WithMaxConcurrent(n int) Option {
	return func(c *engineConfig) error {
		if n <= 0 {
			return fmt.Errorf("%w: %d", ErrMaxConcurrentInvalid, n)
		}
		c.maxConcurrent = n
		return nil
	}
}

// WithQueueDepth bounds the ready-node queue, the backpressure ceiling
// referenced by spec §5's suspension points.
func WithQueueDepth(n int) Option {
	return func(c *engineConfig) error {
		if n <= 0 {
			return fmt.Errorf("%w: %d", ErrQueueDepthInvalid, n)
		}
		c.queueDepth = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the per-node dispatch timeout used when an
// operator has no more specific policy.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(c *engineConfig) error {
		c.defaultNodeTimeout = d
		return nil
	}
}

// WithRunWallClockBudget bounds an entire execute() call's wall-clock time;
// zero means unbounded.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(c *engineConfig) error {
		c.runWallClockBudget = d
		return nil
	}
}

// WithRuntimeVersion sets the runtime_version string embedded in every
// StoreRecord this engine commits (spec §6 "Runtime version").
func WithRuntimeVersion(v string) Option {
	return func(c *engineConfig) error {
		if v == "" {
			return fmt.Errorf("runtime version must not be empty")
		}
		c.runtimeVersion = v
		return nil
	}
}

// WithAllowedRoots sets the filesystem roots operators reading from the
// host filesystem must stay contained in (spec §6 "Environment inputs").
func WithAllowedRoots(roots ...string) Option {
	return func(c *engineConfig) error {
		c.allowedRoots = roots
		return nil
	}
}

// WithMetrics attaches a Prometheus-backed Metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(c *engineConfig) error {
		c.metrics = m
		return nil
	}
}

// WithEmitter attaches the event sink the engine appends per-node events
// to (spec §4.5 "Events").
func WithEmitter(e emit.Emitter) Option {
	return func(c *engineConfig) error {
		if e == nil {
			return fmt.Errorf("emitter must not be nil")
		}
		c.emitter = e
		return nil
	}
}
