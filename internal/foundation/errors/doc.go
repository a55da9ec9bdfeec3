// Package errors provides the classified error primitives used across the orchestrator.
//
// Every failure that crosses a package boundary is a ClassifiedError carrying a
// category, a severity and a retry strategy. The retry layer, the node runner and the
// HTTP API all make their decisions from those three fields instead of string matching.
//
// Mapping onto the orchestration failure taxonomy:
//   - Transient: CategoryNetwork, CategoryUpstream/CategoryQueue/CategoryRepository with
//     RetryBackoff or RetryRateLimit.
//   - Upstream-rejected: CategoryUpstream with RetryNever.
//   - Validation: CategoryValidation (request rejected before a job exists).
//   - Infrastructure-fatal: CategoryRepository or CategoryQueue once retries are spent.
//
// Example usage:
//
//	err := errors.UpstreamError("catalogue returned 503").
//		WithCause(respErr).
//		WithContext("data_standard", "S100").
//		Retryable().
//		Build()
package errors
