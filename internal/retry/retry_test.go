package retry

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/metrics"
)

type countingRecorder struct {
	metrics.NoopRecorder
	retries   int
	exhausted int
}

func (c *countingRecorder) IncRetry(string)          { c.retries++ }
func (c *countingRecorder) IncRetryExhausted(string) { c.exhausted++ }

func testPolicy(attempts int) Policy {
	return NewPolicy(config.RetryBackoffExponential, time.Millisecond, 4*time.Millisecond, attempts, 0)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestDoAttemptsExactlyMaxAttemptsOnTransientFailure(t *testing.T) {
	for _, maxAttempts := range []int{1, 2, 5} {
		calls := 0
		rec := &countingRecorder{}
		transient := errors.NetworkError("connection reset").Build()

		err := Do(context.Background(), testPolicy(maxAttempts), "catalogue.latest", func(context.Context) error {
			calls++
			return transient
		}, WithSleeper(noSleep), WithRecorder(rec))

		require.ErrorIs(t, err, transient)
		assert.Equal(t, maxAttempts, calls)
		assert.Equal(t, maxAttempts-1, rec.retries)
		assert.Equal(t, 1, rec.exhausted)
	}
}

func TestDoSurfacesPermanentErrorImmediately(t *testing.T) {
	calls := 0
	rejected := errors.UpstreamError("bad request").WithContext("status", 400).Build()

	err := Do(context.Background(), testPolicy(5), "catalogue.latest", func(context.Context) error {
		calls++
		return rejected
	}, WithSleeper(noSleep))

	require.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, calls)
	assert.False(t, errors.IsTransient(err))
}

func TestDoUnclassifiedErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testPolicy(3), "op", func(context.Context) error {
		calls++
		return stdErrors.New("plain")
	}, WithSleeper(noSleep))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	var delays []time.Duration

	v, err := Call(context.Background(), testPolicy(4), "file.create_batch", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.UpstreamError("503").Retryable().Build()
		}
		return "batch-1", nil
	}, WithSleeper(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	require.NoError(t, err)
	assert.Equal(t, "batch-1", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestCallStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Call(ctx, testPolicy(10), "op", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.NetworkError("timeout").Build()
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWithClassifierOverride(t *testing.T) {
	calls := 0
	sentinel := stdErrors.New("busy")

	err := Do(context.Background(), testPolicy(3), "op", func(context.Context) error {
		calls++
		return sentinel
	}, WithSleeper(noSleep), WithClassifier(func(err error) bool { return stdErrors.Is(err, sentinel) }))

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}
