package retry

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
	"git.home.luguber.info/inful/exchangeset/internal/metrics"
)

// Classifier reports whether an error is worth retrying.
type Classifier func(error) bool

// Option customizes a single Do/Call invocation.
type Option func(*options)

type options struct {
	recorder metrics.Recorder
	logger   *slog.Logger
	classify Classifier
	sleep    func(context.Context, time.Duration) error
}

// WithRecorder reports retries and exhaustion to a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = metrics.OrNoop(r) }
}

// WithLogger overrides the logger used for per-attempt logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClassifier overrides the transient-error classification.
// The default retries classified errors whose retry strategy is transient.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classify = c
		}
	}
}

// WithSleeper replaces the delay function; tests use it to avoid real waits.
func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func defaultOptions() *options {
	return &options{
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		classify: errors.IsTransient,
		sleep:    sleepContext,
	}
}

// Do runs fn until it succeeds, fails permanently, or the policy's attempt budget is spent.
// The last error is returned as-is so callers can still classify it.
func Do(ctx context.Context, p Policy, operation string, fn func(context.Context) error, opts ...Option) error {
	_, err := Call(ctx, p, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// Call is Do for operations that produce a value.
func Call[T any](ctx context.Context, p Policy, operation string, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !o.classify(err) {
			return zero, err
		}
		if attempt >= p.MaxAttempts {
			o.recorder.IncRetryExhausted(operation)
			o.logger.Warn("Retries exhausted",
				logfields.Operation(operation),
				logfields.Attempt(attempt),
				logfields.MaxAttempts(p.MaxAttempts),
				logfields.Error(err))
			return zero, err
		}

		delay := p.JitteredDelay(attempt)
		o.recorder.IncRetry(operation)
		o.logger.Warn("Transient error, retrying",
			logfields.Operation(operation),
			logfields.Attempt(attempt),
			logfields.MaxAttempts(p.MaxAttempts),
			logfields.Delay(delay),
			logfields.Error(err))

		if serr := o.sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
