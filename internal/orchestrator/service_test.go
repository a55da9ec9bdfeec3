package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/dispatch"
	"git.home.luguber.info/inful/exchangeset/internal/eventstore"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/queue"
	"git.home.luguber.info/inful/exchangeset/internal/retry"
	"git.home.luguber.info/inful/exchangeset/internal/store"
	"git.home.luguber.info/inful/exchangeset/internal/testupstream"
	"git.home.luguber.info/inful/exchangeset/internal/upstream"
)

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	now  = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// hookedStore lets a test fail a job write or act once a build write has landed.
type hookedStore struct {
	*store.MemoryStore
	beforeJob  func(*jobs.Job) error
	afterBuild func(*jobs.Build)
}

func (s *hookedStore) UpsertJob(ctx context.Context, j *jobs.Job) error {
	if s.beforeJob != nil {
		if err := s.beforeJob(j); err != nil {
			return err
		}
	}
	return s.MemoryStore.UpsertJob(ctx, j)
}

func (s *hookedStore) UpsertBuild(ctx context.Context, b *jobs.Build) error {
	if err := s.MemoryStore.UpsertBuild(ctx, b); err != nil {
		return err
	}
	if s.afterBuild != nil {
		s.afterBuild(b)
	}
	return nil
}

type harness struct {
	svc       *Service
	store     *store.MemoryStore
	hooks     *hookedStore
	broker    *queue.MemoryBroker
	catalogue *testupstream.Catalogue
	files     *testupstream.FileService
	events    *eventstore.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     store.NewMemoryStore(),
		broker:    queue.NewMemoryBroker(50, time.Minute, time.Millisecond),
		catalogue: testupstream.NewCatalogue(),
		files:     testupstream.NewFileService(),
		events:    eventstore.NewMemoryStore(),
	}
	h.hooks = &hookedStore{MemoryStore: h.store}
	svc, err := New(Deps{
		Store:     h.hooks,
		Router:    queue.NewRouter(h.broker),
		Catalogue: h.catalogue,
		Files:     h.files,
		Journal:   eventstore.NewJournal(h.events),
	}, Options{
		Environment:         "test",
		Policy:              retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 3, 0),
		ConsistencyAttempts: 3,
		RetryOptions:        []retry.Option{retry.WithSleeper(noSleep)},
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return now }
	svc.sleep = noSleep
	h.svc = svc
	return h
}

func (h *harness) setBaseline(t *testing.T, ds jobs.DataStandard, ts time.Time) {
	t.Helper()
	require.NoError(t, h.store.UpsertTimestamp(context.Background(), &jobs.DataStandardTimestamp{DataStandard: ds, Timestamp: ts}))
}

func (h *harness) requests(ds jobs.DataStandard) [][]byte {
	return h.broker.Queue(queue.RequestsName(ds)).Bodies()
}

func (h *harness) respond(t *testing.T, resp jobs.BuildResponse) dispatch.Outcome {
	t.Helper()
	body, err := jobs.Encode(resp)
	require.NoError(t, err)
	outcome, err := h.svc.HandleResponse(context.Background(), body)
	require.NoError(t, err)
	return outcome
}

func (h *harness) eventTypes(t *testing.T, jobID string) []string {
	t.Helper()
	timeline, err := h.svc.Events(context.Background(), jobID)
	require.NoError(t, err)
	var types []string
	for _, e := range timeline {
		types = append(types, e.Type)
	}
	return types
}

func TestNewRequiresCoreAdapters(t *testing.T) {
	_, err := New(Deps{}, Options{Policy: retry.DefaultPolicy()})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestAcceptValidation(t *testing.T) {
	h := newHarness(t)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		req  Request
	}{
		{"unknown standard", Request{DataStandard: "S999"}},
		{"empty filter entry", Request{DataStandard: "S100", ProductFilter: []string{"GB1", " "}}},
		{"future since", Request{DataStandard: "S100", Since: &future}},
		{"malformed id", Request{DataStandard: "S100", JobID: "not-a-uuid"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Accept(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
		})
	}

	all, err := h.store.ListJobs(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, all, "rejected requests create no job")
}

func TestAcceptReportsEveryInvalidField(t *testing.T) {
	h := newHarness(t)
	future := now.Add(time.Hour)

	_, err := h.svc.Accept(context.Background(), Request{
		DataStandard:  "S100",
		ProductFilter: []string{""},
		Since:         &future,
		JobID:         "nope",
	})
	require.Error(t, err)

	c, ok := errors.AsClassified(err)
	require.True(t, ok)
	fields, ok := c.Context().Get("fields")
	require.True(t, ok)
	assert.Len(t, fields, 3)
	assert.Contains(t, c.Message(), "field 'since'")
	assert.Contains(t, c.Message(), "field 'job_id'")
}

func TestAcceptPersistsAndEnqueuesIntake(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "s-100", ProductFilter: []string{"GB*"}})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateCreated, job.State)
	assert.Equal(t, jobs.S100, job.DataStandard)
	assert.Equal(t, id, job.CorrelationID)

	bodies := h.broker.Queue(queue.IntakeName).Bodies()
	require.Len(t, bodies, 1)
	msg, err := jobs.DecodeIntake(bodies[0])
	require.NoError(t, err)
	assert.Equal(t, id, msg.JobID)

	assert.Equal(t, []string{eventstore.TypeJobAccepted}, h.eventTypes(t, id))
}

func TestAcceptWithExistingIDIsIdempotent(t *testing.T) {
	h := newHarness(t)
	id := uuid.NewString()

	first, err := h.svc.Accept(context.Background(), Request{JobID: id, DataStandard: "S57"})
	require.NoError(t, err)
	second, err := h.svc.Accept(context.Background(), Request{JobID: id, DataStandard: "S57"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ready, _ := h.broker.Queue(queue.IntakeName).Len()
	assert.Equal(t, 1, ready)
}

func TestAcceptFailsJobWhenIntakeUnavailable(t *testing.T) {
	h := newHarness(t)
	h.broker = queue.NewMemoryBroker(1, time.Minute, time.Millisecond)
	h.svc.router = queue.NewRouter(h.broker)

	_, err := h.svc.Accept(context.Background(), Request{DataStandard: "S63"})
	require.NoError(t, err)

	_, err = h.svc.Accept(context.Background(), Request{DataStandard: "S63"})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryQueue))

	failed, err := h.store.ListJobs(context.Background(), store.ListOptions{State: jobs.StateFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

// Newer upstream data: the job is gated, assembled, dispatched and completed.
func TestEndToEndNewDataBuildsAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setBaseline(t, jobs.S100, jan1)
	h.catalogue.Set(jobs.S100, jan2, "GB100", "GB200", "NO300")
	h.files.Add(upstream.Batch{ID: "old-1", DataStandard: jobs.S100})
	h.files.Add(upstream.Batch{ID: "other-standard", DataStandard: jobs.S57})

	id, err := h.svc.Accept(ctx, Request{DataStandard: "S100", ProductFilter: []string{"GB*"}})
	require.NoError(t, err)

	job, err := h.svc.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateDispatched, job.State)
	assert.Equal(t, "batch-1", job.BatchID)

	requests := h.requests(jobs.S100)
	require.Len(t, requests, 1)
	req, err := jobs.DecodeBuildRequest(requests[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"GB100", "GB200"}, req.Products)
	assert.Equal(t, jan2, req.DataTimestamp)
	assert.Equal(t, "batch-1", req.BatchID)

	outcome := h.respond(t, jobs.BuildResponse{JobID: id, Result: jobs.BuildSucceeded, SizeBytes: 10})
	assert.Equal(t, dispatch.OutcomeApplied, outcome)

	st, err := h.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.Consistent)
	assert.Equal(t, jobs.StateSucceeded, st.Job.State)
	assert.Equal(t, jobs.BuildSucceeded, st.Build.Result)

	baseline, err := store.Baseline(ctx, h.store, jobs.S100)
	require.NoError(t, err)
	assert.Equal(t, jan2, baseline)

	committed, _ := h.files.Batch("batch-1")
	assert.True(t, committed.Committed)
	old, _ := h.files.Batch("old-1")
	require.NotNil(t, old.ExpiresAt)
	assert.Equal(t, now.Add(24*time.Hour), *old.ExpiresAt)
	other, _ := h.files.Batch("other-standard")
	assert.Nil(t, other.ExpiresAt)

	assert.Equal(t, []string{
		eventstore.TypeJobAccepted,
		eventstore.TypeJobGated,
		eventstore.TypeJobDispatched,
		eventstore.TypeJobSucceeded,
		eventstore.TypeBatchPublished,
	}, h.eventTypes(t, id))
}

// Upstream equal to the baseline: nothing is dispatched.
func TestEndToEndUpToDate(t *testing.T) {
	h := newHarness(t)
	h.setBaseline(t, jobs.S57, jan2)
	h.catalogue.Set(jobs.S57, jan2, "GB1")

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S57"})
	require.NoError(t, err)
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, jobs.StateUpToDate, job.State)
	assert.Empty(t, h.requests(jobs.S57))
	_, err = h.store.GetBuild(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
}

// Catalogue failing on every attempt: the job fails and nothing is dispatched.
func TestEndToEndCatalogueUnavailable(t *testing.T) {
	h := newHarness(t)
	outage := errors.NetworkError("connection refused").Build()
	h.catalogue.FailNext(outage, outage, outage)

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S63"})
	require.NoError(t, err)
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, jobs.StateFailed, job.State)
	assert.Contains(t, job.Error, "connection refused")
	assert.Equal(t, 3, h.catalogue.Calls())
	assert.Empty(t, h.requests(jobs.S63))
}

func TestForceBuildsEvenWhenUpToDate(t *testing.T) {
	h := newHarness(t)
	h.setBaseline(t, jobs.S100, jan2)
	h.catalogue.Set(jobs.S100, jan2, "GB1")

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100", Force: true})
	require.NoError(t, err)
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateDispatched, job.State)
}

func TestProcessIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.catalogue.Set(jobs.S100, jan2, "GB1")

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100"})
	require.NoError(t, err)
	_, err = h.svc.Process(context.Background(), id)
	require.NoError(t, err)
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, jobs.StateDispatched, job.State)
	assert.Len(t, h.requests(jobs.S100), 1)
	assert.Equal(t, 1, h.catalogue.Calls())
}

func TestProcessFailsJobWhenDispatchWriteFails(t *testing.T) {
	h := newHarness(t)
	h.catalogue.Set(jobs.S100, jan2, "GB1")
	h.hooks.beforeJob = func(j *jobs.Job) error {
		if j.State == jobs.StateDispatched {
			return errors.RepositoryError("database locked").Build()
		}
		return nil
	}

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100"})
	require.NoError(t, err)
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, job.State)

	stored, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, stored.State)
	assert.Contains(t, stored.Error, "database locked")
	assert.Empty(t, h.requests(jobs.S100))

	again, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, again.State)
	assert.Equal(t, 1, h.catalogue.Calls())
}

func TestProcessResumesDispatchInterruptedByCancellation(t *testing.T) {
	h := newHarness(t)
	h.catalogue.Set(jobs.S100, jan2, "GB1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.hooks.afterBuild = func(b *jobs.Build) {
		if b.Result == jobs.BuildPending {
			cancel()
		}
	}

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100"})
	require.NoError(t, err)
	_, err = h.svc.Process(ctx, id)
	require.Error(t, err)
	assert.Empty(t, h.requests(jobs.S100))

	stored, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, jobs.StateDispatched, stored.State)

	h.hooks.afterBuild = nil
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateDispatched, job.State)
	require.Len(t, h.requests(jobs.S100), 1)
	assert.Equal(t, 1, h.catalogue.Calls())

	outcome := h.respond(t, jobs.BuildResponse{JobID: id, Result: jobs.BuildSucceeded})
	assert.Equal(t, dispatch.OutcomeApplied, outcome)
}

func TestProcessFailsJobStoppedBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := jobs.NewJob(uuid.NewString(), "", jobs.S100, nil, jan1)
	require.NoError(t, h.store.UpsertJob(ctx, job))
	job.RecordSnapshot(jan2)
	require.NoError(t, job.Transition(jobs.StateNeedsBuild, jan1))
	require.NoError(t, h.store.UpsertJob(ctx, job))

	got, err := h.svc.Process(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, got.State)
	assert.Contains(t, got.Error, "assembly interrupted")
	assert.Empty(t, h.requests(jobs.S100))
	assert.Zero(t, h.catalogue.Calls())
}

func TestProcessUnknownJob(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Process(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNoMatchingProductsFailsJob(t *testing.T) {
	h := newHarness(t)
	h.catalogue.Set(jobs.S100, jan2, "NO1", "NO2")

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100", ProductFilter: []string{"GB*"}})
	require.NoError(t, err)
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, jobs.StateFailed, job.State)
	assert.Contains(t, job.Error, "no products match")
	assert.Empty(t, h.requests(jobs.S100))

	_, ok := h.files.Batch("batch-1")
	assert.False(t, ok, "no batch is created when resolution fails")
}

func TestCreateBatchRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	h.catalogue.Set(jobs.S100, jan2, "GB1")
	h.files.FailNext("create", errors.UpstreamError("busy").Retryable().Build())

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100"})
	require.NoError(t, err)
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, jobs.StateDispatched, job.State)
	assert.Equal(t, "batch-1", job.BatchID)
}

func TestCreateBatchRejectedFailsJob(t *testing.T) {
	h := newHarness(t)
	h.catalogue.Set(jobs.S100, jan2, "GB1")
	h.files.FailNext("create", errors.UpstreamError("forbidden").Build())

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100"})
	require.NoError(t, err)
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, jobs.StateFailed, job.State)
	assert.Empty(t, h.requests(jobs.S100))
}

func TestWithoutFileServiceBatchStepIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.svc.files = nil
	h.catalogue.Set(jobs.S100, jan2, "GB1")

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100"})
	require.NoError(t, err)
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateDispatched, job.State)
	assert.Empty(t, job.BatchID)

	assert.Equal(t, dispatch.OutcomeApplied, h.respond(t, jobs.BuildResponse{JobID: id, Result: jobs.BuildSucceeded}))
}

func TestBuilderFailureKeepsBaseline(t *testing.T) {
	h := newHarness(t)
	h.setBaseline(t, jobs.S100, jan1)
	h.catalogue.Set(jobs.S100, jan2, "GB1")

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100"})
	require.NoError(t, err)
	_, err = h.svc.Process(context.Background(), id)
	require.NoError(t, err)

	h.respond(t, jobs.BuildResponse{JobID: id, Result: jobs.BuildFailed, Error: "disk full"})

	st, err := h.svc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, st.Job.State)
	assert.Equal(t, jobs.BuildFailed, st.Build.Result)

	baseline, err := store.Baseline(context.Background(), h.store, jobs.S100)
	require.NoError(t, err)
	assert.Equal(t, jan1, baseline)

	b, _ := h.files.Batch("batch-1")
	assert.False(t, b.Committed)
}

func TestDuplicateResponsesAreDiscarded(t *testing.T) {
	h := newHarness(t)
	h.catalogue.Set(jobs.S100, jan2, "GB1")
	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100"})
	require.NoError(t, err)
	_, err = h.svc.Process(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, dispatch.OutcomeApplied, h.respond(t, jobs.BuildResponse{JobID: id, Result: jobs.BuildSucceeded}))
	assert.Equal(t, dispatch.OutcomeDiscarded, h.respond(t, jobs.BuildResponse{JobID: id, Result: jobs.BuildSucceeded}))
	assert.Equal(t, dispatch.OutcomeDiscarded, h.respond(t, jobs.BuildResponse{JobID: uuid.NewString(), Result: jobs.BuildSucceeded}))
}

func TestHandleResponseRejectsMalformedBody(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.HandleResponse(context.Background(), []byte(`{"result":"succeeded"}`))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestTriggerAcceptsOnePerStandard(t *testing.T) {
	h := newHarness(t)
	ids, err := h.svc.Trigger(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, len(jobs.AllDataStandards()))

	first, err := h.store.GetJob(context.Background(), ids[0])
	require.NoError(t, err)
	second, err := h.store.GetJob(context.Background(), ids[1])
	require.NoError(t, err)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.Contains(t, first.CorrelationID, "schedule-")
}

func TestStatusRetriesUntilConsistent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := jobs.NewJob("job-1", "", jobs.S100, nil, jan1)
	require.NoError(t, h.store.UpsertJob(ctx, job))
	job.RecordSnapshot(jan2)
	require.NoError(t, job.Transition(jobs.StateNeedsBuild, jan1))
	require.NoError(t, job.Transition(jobs.StateDispatched, jan1))
	require.NoError(t, h.store.UpsertJob(ctx, job))

	build := jobs.NewBuild(job, []string{"GB1"}, jan1)
	build.Result = jobs.BuildSucceeded
	require.NoError(t, h.store.UpsertBuild(ctx, build))

	sleeps := 0
	h.svc.sleep = func(ctx context.Context, _ time.Duration) error {
		sleeps++
		if sleeps == 1 {
			require.NoError(t, job.Transition(jobs.StateSucceeded, jan1))
			require.NoError(t, h.store.UpsertJob(ctx, job))
		}
		return nil
	}

	st, err := h.svc.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, st.Consistent)
	assert.Equal(t, jobs.StateSucceeded, st.Job.State)
	assert.Equal(t, 1, sleeps)
}

func TestStatusGivesUpAfterAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := jobs.NewJob("job-1", "", jobs.S100, nil, jan1)
	require.NoError(t, h.store.UpsertJob(ctx, job))
	job.RecordSnapshot(jan2)
	require.NoError(t, job.Transition(jobs.StateNeedsBuild, jan1))
	require.NoError(t, job.Transition(jobs.StateDispatched, jan1))
	require.NoError(t, h.store.UpsertJob(ctx, job))
	build := jobs.NewBuild(job, nil, jan1)
	build.Result = jobs.BuildFailed
	require.NoError(t, h.store.UpsertBuild(ctx, build))

	st, err := h.svc.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, st.Consistent)
	assert.Equal(t, jobs.StateDispatched, st.Job.State)
}

func TestSetPolicyAppliesToGate(t *testing.T) {
	h := newHarness(t)
	h.svc.SetPolicy(retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 1, 0))
	h.catalogue.FailNext(errors.NetworkError("down").Build(), errors.NetworkError("down").Build())

	id, err := h.svc.Accept(context.Background(), Request{DataStandard: "S100"})
	require.NoError(t, err)
	job, err := h.svc.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, job.State)
	assert.Equal(t, 1, h.catalogue.Calls())
}
