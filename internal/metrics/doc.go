// Package metrics provides observability hooks for the exchange set orchestrator.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection never needs nil checks at call sites:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	gate := gate.New(timestamps, catalogue, policy).WithRecorder(recorder)
//
// PrometheusRecorder registers its collectors once on the supplied registry and
// HTTPHandler exposes that registry for scraping.
package metrics
