package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
	"git.home.luguber.info/inful/exchangeset/internal/metrics"
)

// RunOption configures a Run.
type RunOption func(*runner)

// WithHaltOnFatal makes Run return fatal classified errors (e.g. misconfiguration)
// instead of recording them only in the result.
func WithHaltOnFatal() RunOption {
	return func(r *runner) { r.haltOnFatal = true }
}

// WithRecorder reports node durations and retries.
func WithRecorder(rec metrics.Recorder) RunOption {
	return func(r *runner) { r.recorder = metrics.OrNoop(rec) }
}

// WithLogger sets the logger for node events.
func WithLogger(l *slog.Logger) RunOption {
	return func(r *runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSleeper replaces the delay used between retry attempts.
func WithSleeper(fn func(context.Context, time.Duration) error) RunOption {
	return func(r *runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

type runner struct {
	haltOnFatal bool
	recorder    metrics.Recorder
	logger      *slog.Logger
	sleep       func(context.Context, time.Duration) error
}

// haltError carries a fatal error out of the tree when WithHaltOnFatal is set.
type haltError struct{ err error }

// Run executes root against pc and returns the aggregated result. The returned error is
// non-nil only when WithHaltOnFatal is set and a node failed with a fatal classified error.
func Run[S any](ctx context.Context, pc *Context[S], root Node[S], opts ...RunOption) (Result, error) {
	r := &runner{
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logfields.CorrelationID(pc.CorrelationID()), logfields.Environment(pc.Environment()))

	start := time.Now()
	res, halt := execute(ctx, r, pc, root)
	r.recorder.ObservePipelineDuration(root.Name, time.Since(start))
	if halt != nil {
		return res, halt.err
	}
	return res, nil
}

func execute[S any](ctx context.Context, r *runner, pc *Context[S], n Node[S]) (Result, *haltError) {
	if !n.ShouldExecute(pc) {
		r.logger.Debug("Node skipped", logfields.Node(n.Name))
		r.recorder.ObserveNodeDuration(n.Name, metrics.ResultSkipped, 0)
		return Result{Node: n.Name, Kind: n.Kind, Status: NotRun, Skipped: true}, nil
	}

	start := time.Now()
	var (
		res  Result
		halt *haltError
	)
	switch n.Kind {
	case KindLeaf:
		res = executeLeaf(ctx, pc, n)
		if res.Failed() && r.haltOnFatal && errors.IsFatal(res.Err) {
			halt = &haltError{err: res.Err}
		}
	case KindComposite:
		res, halt = executeComposite(ctx, r, pc, n)
	case KindRetry:
		res, halt = executeRetry(ctx, r, pc, n)
	default:
		res = Result{Node: n.Name, Kind: n.Kind, Status: Failed,
			Err: errors.PipelineError("unknown node kind").Fatal().WithContext("node", n.Name).Build()}
	}
	res.Duration = time.Since(start)

	label := metrics.ResultSuccess
	if res.Skipped {
		label = metrics.ResultSkipped
	}
	if res.Failed() {
		label = metrics.ResultFailed
	}
	if res.Failed() && n.Kind == KindLeaf {
		r.logger.Warn("Node failed",
			logfields.Node(n.Name),
			logfields.NodeStatus(string(res.Status)),
			logfields.DurationMS(res.Duration),
			logfields.Error(res.Err))
	} else {
		r.logger.Debug("Node completed",
			logfields.Node(n.Name),
			logfields.NodeStatus(string(res.Status)),
			logfields.DurationMS(res.Duration))
	}
	r.recorder.ObserveNodeDuration(n.Name, label, res.Duration)
	return res, halt
}

func executeLeaf[S any](ctx context.Context, pc *Context[S], n Node[S]) (res Result) {
	res = Result{Node: n.Name, Kind: KindLeaf}
	defer func() {
		if fault := recover(); fault != nil {
			res.Status = Failed
			res.Fault = fault
			res.Err = errors.PipelineError("node panicked").
				WithContext("node", n.Name).
				WithContext("panic", fmt.Sprint(fault)).
				Build()
		}
	}()

	if n.Exec == nil {
		res.Status = Failed
		res.Err = errors.PipelineError("leaf node has no exec function").Fatal().WithContext("node", n.Name).Build()
		return res
	}

	status, err := n.Exec(ctx, pc)
	switch {
	case err != nil:
		res.Status = Failed
		res.Err = err
	case status == Succeeded || status == Failed:
		res.Status = status
		if status == Failed {
			res.Err = errors.PipelineError("node reported failure").WithContext("node", n.Name).Build()
		}
	default:
		res.Status = Failed
		res.Err = errors.PipelineError("node returned no status").WithContext("node", n.Name).Build()
	}
	return res
}

// executeComposite runs children in order. Skipped children never stop the run; the first
// failed child does, and so does cancellation observed between children.
func executeComposite[S any](ctx context.Context, r *runner, pc *Context[S], n Node[S]) (Result, *haltError) {
	res := Result{Node: n.Name, Kind: KindComposite, Status: Succeeded}
	for _, child := range n.Children {
		if err := ctx.Err(); err != nil {
			res.Status = Failed
			res.Err = errors.PipelineError("pipeline canceled").WithCause(err).WithContext("node", child.Name).Build()
			return res, nil
		}

		cr, halt := execute(ctx, r, pc, child)
		res.Children = append(res.Children, cr)
		if halt != nil {
			res.Status = Failed
			res.Err = cr.Err
			return res, halt
		}
		if cr.Failed() {
			res.Status = Failed
			res.Err = cr.Err
			return res, nil
		}
	}
	return res, nil
}

// executeRetry re-runs the body while it fails with a transient error and attempts remain.
// Each attempt is a child result; the final attempt decides the status.
func executeRetry[S any](ctx context.Context, r *runner, pc *Context[S], n Node[S]) (Result, *haltError) {
	res := Result{Node: n.Name, Kind: KindRetry, Status: NotRun}
	if n.Body == nil {
		res.Status = Failed
		res.Err = errors.PipelineError("retry node has no body").Fatal().WithContext("node", n.Name).Build()
		return res, nil
	}

	maxAttempts := n.Policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		cr, halt := execute(ctx, r, pc, *n.Body)
		res.Children = append(res.Children, cr)
		res.Status, res.Err = cr.Status, cr.Err
		if cr.Skipped {
			res.Status, res.Skipped, res.Err = NotRun, true, nil
			return res, nil
		}
		if halt != nil {
			return res, halt
		}
		if !cr.Failed() {
			return res, nil
		}
		if !errors.IsTransient(cr.Err) {
			return res, nil
		}
		if attempt >= maxAttempts {
			r.recorder.IncRetryExhausted(n.Name)
			return res, nil
		}

		delay := n.Policy.JitteredDelay(attempt)
		r.recorder.IncRetry(n.Name)
		r.logger.Warn("Transient node failure, retrying",
			logfields.Node(n.Name),
			logfields.Attempt(attempt),
			logfields.MaxAttempts(maxAttempts),
			logfields.Delay(delay),
			logfields.Error(cr.Err))
		if err := r.sleep(ctx, delay); err != nil {
			res.Err = errors.PipelineError("pipeline canceled").WithCause(err).WithContext("node", n.Name).Build()
			return res, nil
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
