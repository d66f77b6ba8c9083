// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coopsched

// loopOptions holds configuration resolved from a New() call's Option list.
type loopOptions struct {
	strictDeferredOrdering bool
	metricsEnabled         bool
	ingressChunkHint       int
	logger                 Logger
}

// Option configures a Loop at construction time.
type Option interface {
	applyLoop(*loopOptions) error
}

type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithStrictDeferredOrdering sets whether the deferred-work ring is drained
// after every task execution (strict, default off) or only in batches
// between the queue-drain steps of each tick. Strict ordering costs throughput in exchange for a
// guarantee that deferred work never observes more than one task's worth
// of staleness.
func WithStrictDeferredOrdering(enabled bool) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.strictDeferredOrdering = enabled
		return nil
	}}
}

// WithMetrics enables latency percentile tracking and queue-depth counters
// on the Loop, retrievable via Loop.Metrics().
func WithMetrics(enabled bool) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithIngressChunkHint is advisory sizing information for callers who know
// their typical per-tick submission volume. It has no effect: New does not
// read it, and ChunkedIngress grows by fixed-size chunks regardless.
func WithIngressChunkHint(n int) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.ingressChunkHint = n
		return nil
	}}
}

// WithLogger installs the Logger the Loop uses for lifecycle and
// forced-yield events. The default, if this option is omitted, is a
// logiface-backed logger writing JSON via stumpy to os.Stderr.
func WithLogger(l Logger) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = l
		return nil
	}}
}

// resolveLoopOptions applies opts in order, skipping nil entries.
func resolveLoopOptions(opts []Option) (*loopOptions, error) {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = NewDefaultLogger()
	}
	return cfg, nil
}
