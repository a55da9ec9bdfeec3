// Package orchestrator is the entry point of the build engine. It accepts build
// requests, runs the timestamp gate and assembly pipeline for each job, and
// reconciles builder responses.
package orchestrator

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/exchangeset/internal/dispatch"
	"git.home.luguber.info/inful/exchangeset/internal/eventstore"
	"git.home.luguber.info/inful/exchangeset/internal/foundation"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/gate"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
	"git.home.luguber.info/inful/exchangeset/internal/metrics"
	"git.home.luguber.info/inful/exchangeset/internal/observability"
	"git.home.luguber.info/inful/exchangeset/internal/queue"
	"git.home.luguber.info/inful/exchangeset/internal/retry"
	"git.home.luguber.info/inful/exchangeset/internal/store"
	"git.home.luguber.info/inful/exchangeset/internal/upstream"
)

// Deps are the adapters the service drives. Files and Journal are optional.
type Deps struct {
	Store     store.Store
	Router    *queue.Router
	Catalogue upstream.CatalogueService
	Files     upstream.FileService
	Journal   *eventstore.Journal
	Recorder  metrics.Recorder
}

// Options tune the service.
type Options struct {
	Environment         string
	Policy              retry.Policy
	DataStandards       []jobs.DataStandard
	BatchExpiry         time.Duration
	ConsistencyAttempts int
	ConsistencyDelay    time.Duration
	RetryOptions        []retry.Option
}

// Request is a caller's ask to build an exchange set.
type Request struct {
	JobID         string     `json:"job_id,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	DataStandard  string     `json:"data_standard"`
	ProductFilter []string   `json:"product_filter,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Force         bool       `json:"force,omitempty"`
}

// Service wires the gate, the assembly pipeline and the dispatcher together.
type Service struct {
	store      store.Store
	router     *queue.Router
	files      upstream.FileService
	journal    *eventstore.Journal
	recorder   metrics.Recorder
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	policy     *retry.Source
	validator  *foundation.ValidatorChain[Request]
	retryOpts  []retry.Option
	opts       Options
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// New creates a service.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil || deps.Router == nil || deps.Catalogue == nil {
		return nil, errors.ConfigError("orchestrator requires a store, a queue router and a catalogue").Build()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if len(opts.DataStandards) == 0 {
		opts.DataStandards = jobs.AllDataStandards()
	}
	if opts.BatchExpiry <= 0 {
		opts.BatchExpiry = 24 * time.Hour
	}
	if opts.ConsistencyAttempts <= 0 {
		opts.ConsistencyAttempts = 5
	}
	if opts.ConsistencyDelay <= 0 {
		opts.ConsistencyDelay = 100 * time.Millisecond
	}
	rec := metrics.OrNoop(deps.Recorder)
	retryOpts := append([]retry.Option{retry.WithRecorder(rec)}, opts.RetryOptions...)

	s := &Service{
		store:    deps.Store,
		router:   deps.Router,
		files:    deps.Files,
		journal:  deps.Journal,
		recorder: rec,
		gate: gate.New(deps.Store, deps.Store, deps.Catalogue, opts.Policy).
			WithRecorder(rec).
			WithRetryOptions(opts.RetryOptions...),
		dispatcher: dispatch.New(dispatch.FromStore(deps.Store), deps.Router, opts.Policy).
			WithRecorder(rec).
			WithJournal(deps.Journal).
			WithRetryOptions(opts.RetryOptions...),
		policy:    retry.NewSource(opts.Policy),
		retryOpts: retryOpts,
		opts:      opts,
		now:       time.Now,
		sleep:     sleepContext,
	}
	s.validator = s.requestValidator()
	return s, nil
}

// SetPolicy swaps the retry policy used by every component.
func (s *Service) SetPolicy(p retry.Policy) {
	s.policy.Set(p)
	s.gate.SetPolicy(p)
	s.dispatcher.SetPolicy(p)
	slog.Info("Retry policy updated",
		slog.String("mode", string(p.Mode)),
		logfields.MaxAttempts(p.MaxAttempts),
		logfields.Delay(p.Initial))
}

// DataStandards lists the standards the service serves.
func (s *Service) DataStandards() []jobs.DataStandard {
	return append([]jobs.DataStandard(nil), s.opts.DataStandards...)
}

// Accept validates req, persists a created job and hands it to the intake queue.
// Validation failures return a validation error and no job is stored. If the intake
// queue is unavailable the job is failed and a queue error is returned.
func (s *Service) Accept(ctx context.Context, req Request) (string, error) {
	job, err := s.newJob(req)
	if err != nil {
		return "", err
	}

	if err := s.store.UpsertJob(ctx, job); err != nil {
		if stdErrors.Is(err, store.ErrConflict) && req.JobID != "" {
			// Resubmission with a caller supplied id.
			slog.Info("Job already accepted", logfields.JobID(job.ID))
			return job.ID, nil
		}
		return "", err
	}
	s.recorder.IncJobState(string(job.DataStandard), string(job.State))
	s.journal.JobAccepted(ctx, job)

	body, err := jobs.Encode(jobs.IntakeMessage{JobID: job.ID, CorrelationID: job.CorrelationID, DataStandard: job.DataStandard})
	if err != nil {
		return "", err
	}
	err = retry.Do(ctx, s.policy.Policy(), "queue.enqueue_intake", func(ctx context.Context) error {
		q, err := s.router.Intake(ctx)
		if err != nil {
			return err
		}
		return q.Enqueue(ctx, job.ID+":intake", body)
	}, s.retryOpts...)
	if err != nil {
		if ferr := job.Fail(err, s.now()); ferr == nil {
			if uerr := s.store.UpsertJob(context.WithoutCancel(ctx), job); uerr != nil {
				slog.Error("Failed to record intake failure", logfields.JobID(job.ID), logfields.Error(uerr))
			}
			s.journal.JobCompleted(context.WithoutCancel(ctx), job)
		}
		return "", errors.QueueError("intake queue unavailable").WithCause(err).WithContext("job_id", job.ID).Build()
	}

	slog.Info("Job accepted",
		logfields.JobID(job.ID),
		logfields.CorrelationID(job.CorrelationID),
		logfields.DataStandard(string(job.DataStandard)))
	return job.ID, nil
}

func (s *Service) newJob(req Request) (*jobs.Job, error) {
	if err := s.validator.Validate(req).ToError(); err != nil {
		return nil, err
	}
	ds, err := jobs.ParseDataStandard(req.DataStandard)
	if err != nil {
		return nil, err
	}
	now := s.now()
	id := req.JobID
	if id == "" {
		id = uuid.NewString()
	}

	job := jobs.NewJob(id, req.CorrelationID, ds, req.ProductFilter, now)
	if req.Since != nil {
		since := req.Since.UTC()
		job.Since = &since
	}
	job.Force = req.Force
	return job, nil
}

func (s *Service) serves(ds jobs.DataStandard) bool {
	for _, d := range s.opts.DataStandards {
		if d == ds {
			return true
		}
	}
	return false
}

// Trigger accepts one job per served data standard. It is the scheduled origin.
func (s *Service) Trigger(ctx context.Context) ([]string, error) {
	return s.TriggerStandards(ctx, s.opts.DataStandards)
}

// TriggerStandards accepts one job for each of dss under a shared correlation id.
func (s *Service) TriggerStandards(ctx context.Context, dss []jobs.DataStandard) ([]string, error) {
	correlation := "schedule-" + uuid.NewString()
	var (
		ids  []string
		errs []error
	)
	for _, ds := range dss {
		id, err := s.Accept(ctx, Request{CorrelationID: correlation, DataStandard: string(ds)})
		if err != nil {
			slog.Error("Scheduled request failed", logfields.DataStandard(string(ds)), logfields.Error(err))
			errs = append(errs, err)
			continue
		}
		ids = append(ids, id)
	}
	slog.Info("Scheduled trigger completed", logfields.CorrelationID(correlation), slog.Int("jobs", len(ids)))
	return ids, stdErrors.Join(errs...)
}

// Process runs the gate and, if a build is needed, the assembly pipeline for a
// created job. A redelivered intake message for a job stopped part way is finished:
// a job that passed the gate but was never dispatched is failed, and a dispatched
// job has its request sent again. Terminal jobs are returned unchanged.
func (s *Service) Process(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ctx = observability.WithJob(ctx, job.ID, job.CorrelationID, string(job.DataStandard))
	switch job.State {
	case jobs.StateCreated:
	case jobs.StateNeedsBuild:
		observability.WarnContext(ctx, "Job stopped before dispatch, failing it")
		return job, s.dispatcher.Abandon(ctx, job, errAssemblyInterrupted)
	case jobs.StateDispatched:
		_, err := s.dispatcher.Resume(ctx, job)
		return job, err
	default:
		observability.DebugContext(ctx, "Job already processed", logfields.JobState(string(job.State)))
		return job, nil
	}

	decision, err := s.gate.Check(ctx, job)
	if decision != nil {
		s.journal.JobGated(ctx, job, eventstore.GatedPayload{
			Outcome:  string(decision.Outcome),
			Forced:   decision.Forced,
			Baseline: decision.Baseline,
			Upstream: decision.Upstream,
		})
	}
	if err != nil {
		return job, err
	}
	switch decision.Outcome {
	case gate.OutcomeUpToDate:
		s.journal.JobCompleted(ctx, job)
		return job, nil
	case gate.OutcomeFailed:
		s.journal.JobCompleted(ctx, job)
		return job, nil
	}

	return s.assemble(ctx, job, decision.Snapshot)
}

// HandleResponse decodes and applies one builder response. A malformed body
// returns a validation error.
func (s *Service) HandleResponse(ctx context.Context, body []byte) (dispatch.Outcome, error) {
	resp, err := jobs.DecodeBuildResponse(body)
	if err != nil {
		return "", err
	}
	ctx = observability.WithJob(ctx, resp.JobID, "", "")
	outcome, err := s.dispatcher.HandleResponse(ctx, resp)
	if err != nil || outcome != dispatch.OutcomeApplied {
		return outcome, err
	}
	s.publish(ctx, resp.JobID)
	return outcome, nil
}

// List returns stored jobs.
func (s *Service) List(ctx context.Context, opts store.ListOptions) ([]*jobs.Job, error) {
	return s.store.ListJobs(ctx, opts)
}

// Events returns the audit timeline of a job, or nil when no event store is configured.
func (s *Service) Events(ctx context.Context, jobID string) ([]eventstore.TimelineEntry, error) {
	es := s.journal.Store()
	if es == nil {
		return nil, nil
	}
	return eventstore.Timeline(ctx, es, jobID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
