package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exchangeset"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	gateDecisions    *prom.CounterVec
	dispatches       *prom.CounterVec
	responses        *prom.CounterVec
	jobStates        *prom.CounterVec
	retries          *prom.CounterVec
	retriesExhausted *prom.CounterVec
	nodeDuration     *prom.HistogramVec
	pipelineDuration *prom.HistogramVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.gateDecisions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Timestamp gate decisions by data standard",
		}, []string{"data_standard", "decision"})
		pr.dispatches = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Build request dispatches by outcome",
		}, []string{"data_standard", "result"})
		pr.responses = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Build responses handled by outcome",
		}, []string{"data_standard", "result"})
		pr.jobStates = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job state transitions by target state",
		}, []string{"data_standard", "state"})
		pr.retries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries of transient failures by operation",
		}, []string{"operation"})
		pr.retriesExhausted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "retry_exhausted_total",
			Help:      "Operations whose retries were exhausted",
		}, []string{"operation"})
		pr.nodeDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of pipeline node executions",
			Buckets:   prom.DefBuckets,
		}, []string{"node", "result"})
		pr.pipelineDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of whole pipeline runs",
			Buckets:   prom.DefBuckets,
		}, []string{"pipeline"})
		reg.MustRegister(pr.gateDecisions, pr.dispatches, pr.responses, pr.jobStates,
			pr.retries, pr.retriesExhausted, pr.nodeDuration, pr.pipelineDuration)
	})
	return pr
}

func (p *PrometheusRecorder) IncGateDecision(dataStandard string, decision GateDecision) {
	if p == nil || p.gateDecisions == nil {
		return
	}
	p.gateDecisions.WithLabelValues(dataStandard, string(decision)).Inc()
}

func (p *PrometheusRecorder) IncDispatch(dataStandard string, result ResultLabel) {
	if p == nil || p.dispatches == nil {
		return
	}
	p.dispatches.WithLabelValues(dataStandard, string(result)).Inc()
}

func (p *PrometheusRecorder) IncResponse(dataStandard string, result ResultLabel) {
	if p == nil || p.responses == nil {
		return
	}
	p.responses.WithLabelValues(dataStandard, string(result)).Inc()
}

func (p *PrometheusRecorder) IncJobState(dataStandard, state string) {
	if p == nil || p.jobStates == nil {
		return
	}
	p.jobStates.WithLabelValues(dataStandard, state).Inc()
}

func (p *PrometheusRecorder) IncRetry(operation string) {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.WithLabelValues(operation).Inc()
}

func (p *PrometheusRecorder) IncRetryExhausted(operation string) {
	if p == nil || p.retriesExhausted == nil {
		return
	}
	p.retriesExhausted.WithLabelValues(operation).Inc()
}

func (p *PrometheusRecorder) ObserveNodeDuration(node string, result ResultLabel, d time.Duration) {
	if p == nil || p.nodeDuration == nil {
		return
	}
	p.nodeDuration.WithLabelValues(node, string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObservePipelineDuration(pipeline string, d time.Duration) {
	if p == nil || p.pipelineDuration == nil {
		return
	}
	p.pipelineDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

// HTTPHandler serves the registry in the OpenMetrics format. Collection errors
// are reported in the response instead of aborting the scrape.
func HTTPHandler(reg prom.Gatherer) http.Handler {
	if reg == nil {
		reg = prom.DefaultGatherer
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
