package metrics

import "time"

// ResultLabel enumerates outcome labels shared by the counters.
type ResultLabel string

const (
	ResultSuccess   ResultLabel = "success"
	ResultFailed    ResultLabel = "failed"
	ResultSkipped   ResultLabel = "skipped"
	ResultDiscarded ResultLabel = "discarded"
)

// GateDecision enumerates timestamp gate outcomes.
type GateDecision string

const (
	GateBuild    GateDecision = "build"
	GateUpToDate GateDecision = "up_to_date"
	GateForced   GateDecision = "forced"
	GateError    GateDecision = "error"
)

// Recorder defines observability hooks for gate, dispatch, response and retry metrics.
// Implementations may forward to Prometheus or similar backends.
type Recorder interface {
	IncGateDecision(dataStandard string, decision GateDecision)
	IncDispatch(dataStandard string, result ResultLabel)
	IncResponse(dataStandard string, result ResultLabel)
	IncJobState(dataStandard, state string)
	IncRetry(operation string)
	IncRetryExhausted(operation string)
	ObserveNodeDuration(node string, result ResultLabel, d time.Duration)
	ObservePipelineDuration(pipeline string, d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncGateDecision(string, GateDecision)                   {}
func (NoopRecorder) IncDispatch(string, ResultLabel)                        {}
func (NoopRecorder) IncResponse(string, ResultLabel)                        {}
func (NoopRecorder) IncJobState(string, string)                             {}
func (NoopRecorder) IncRetry(string)                                        {}
func (NoopRecorder) IncRetryExhausted(string)                               {}
func (NoopRecorder) ObserveNodeDuration(string, ResultLabel, time.Duration) {}
func (NoopRecorder) ObservePipelineDuration(string, time.Duration)          {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
