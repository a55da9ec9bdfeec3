package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/retry"
	"git.home.luguber.info/inful/exchangeset/internal/store"
	"git.home.luguber.info/inful/exchangeset/internal/testupstream"
)

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type fixture struct {
	store     *store.MemoryStore
	catalogue *testupstream.Catalogue
	gate      *Gate
}

func newFixture(t *testing.T, stored time.Time) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	if !stored.IsZero() {
		require.NoError(t, s.UpsertTimestamp(context.Background(), &jobs.DataStandardTimestamp{DataStandard: jobs.S100, Timestamp: stored}))
	}
	cat := testupstream.NewCatalogue()
	policy := retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 3, 0)
	g := New(s, s, cat, policy).WithRetryOptions(retry.WithSleeper(noSleep))
	return &fixture{store: s, catalogue: cat, gate: g}
}

func (f *fixture) createdJob(t *testing.T) *jobs.Job {
	t.Helper()
	job := jobs.NewJob("job-1", "", jobs.S100, nil, jan1)
	require.NoError(t, f.store.UpsertJob(context.Background(), job))
	return job
}

func TestGateBuildsOnlyWhenUpstreamIsNewer(t *testing.T) {
	cases := []struct {
		name     string
		upstream time.Time
		want     Outcome
		state    jobs.State
	}{
		{"upstream newer", jan2, OutcomeBuild, jobs.StateNeedsBuild},
		{"equal", jan1, OutcomeUpToDate, jobs.StateUpToDate},
		{"upstream older", jan1.Add(-time.Hour), OutcomeUpToDate, jobs.StateUpToDate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, jan1)
			f.catalogue.Set(jobs.S100, tc.upstream, "P1")
			job := f.createdJob(t)

			d, err := f.gate.Check(context.Background(), job)
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Outcome)
			assert.Equal(t, jan1, d.Baseline)

			stored, err := f.store.GetJob(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.state, stored.State)
			if tc.want == OutcomeBuild {
				require.NotNil(t, stored.DataTimestamp)
				assert.Equal(t, tc.upstream, *stored.DataTimestamp)
			}
		})
	}
}

func TestGateWithoutBaselineBuilds(t *testing.T) {
	f := newFixture(t, time.Time{})
	f.catalogue.Set(jobs.S100, jan1, "P1")

	d, err := f.gate.Check(context.Background(), f.createdJob(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuild, d.Outcome)
	assert.True(t, d.Baseline.IsZero())
}

func TestGateSinceOverridesStoredBaseline(t *testing.T) {
	f := newFixture(t, jan2)
	f.catalogue.Set(jobs.S100, jan2, "P1")
	job := f.createdJob(t)
	since := jan1
	job.Since = &since

	d, err := f.gate.Check(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuild, d.Outcome)
	assert.Equal(t, jan1, d.Baseline)
}

func TestGateForceAlwaysBuilds(t *testing.T) {
	f := newFixture(t, jan2)
	f.catalogue.Set(jobs.S100, jan2, "P1")
	job := f.createdJob(t)
	job.Force = true

	d, err := f.gate.Check(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuild, d.Outcome)
	assert.True(t, d.Forced)
	assert.Equal(t, jobs.StateNeedsBuild, job.State)
}

func TestGateFailsJobAfterRetriesExhausted(t *testing.T) {
	f := newFixture(t, jan1)
	f.catalogue.Set(jobs.S100, jan2, "P1")
	transient := errors.UpstreamError("catalogue unavailable").Retryable().Build()
	f.catalogue.FailNext(transient, transient, transient, transient)
	job := f.createdJob(t)

	d, err := f.gate.Check(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, d.Outcome)
	assert.ErrorIs(t, d.Err, transient)
	assert.Equal(t, 3, f.catalogue.Calls(), "exactly max attempts")

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, stored.State)
	assert.Contains(t, stored.Error, "catalogue unavailable")
}

func TestGateDoesNotRetryRejections(t *testing.T) {
	f := newFixture(t, jan1)
	f.catalogue.FailNext(errors.UpstreamError("bad request").Build())

	d, err := f.gate.Check(context.Background(), f.createdJob(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, d.Outcome)
	assert.Equal(t, 1, f.catalogue.Calls())
}

func TestGateRecoversFromTransientFailure(t *testing.T) {
	f := newFixture(t, jan1)
	f.catalogue.Set(jobs.S100, jan2, "P1")
	f.catalogue.FailNext(errors.NetworkError("reset").Build())

	d, err := f.gate.Check(context.Background(), f.createdJob(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuild, d.Outcome)
	assert.Equal(t, 2, f.catalogue.Calls())
}

func TestGateRejectsNonCreatedJob(t *testing.T) {
	f := newFixture(t, jan1)
	f.catalogue.Set(jobs.S100, jan2)
	job := f.createdJob(t)
	job.State = jobs.StateSucceeded

	_, err := f.gate.Check(context.Background(), job)
	require.ErrorIs(t, err, jobs.ErrInvalidTransition)
}
