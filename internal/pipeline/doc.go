// Package pipeline executes trees of nodes over a shared, typed context.
//
// A tree is built from three node kinds: leaves that perform work, composites
// that run their children in order and stop at the first failure, and retry
// wrappers that re-run a child on transient failure. Run walks the tree and
// returns an aggregated Result. Every node may carry a guard; a node whose
// guard returns false is recorded as skipped and never stops its siblings.
//
//	root := pipeline.Composite("assembly",
//	    pipeline.Leaf("validate", validate),
//	    pipeline.Retry("create-batch", policy, pipeline.Leaf("create", create)).When(hasFileService),
//	    pipeline.Leaf("dispatch", dispatch),
//	)
//	res, err := pipeline.Run(ctx, pipeline.NewContext(corrID, env, subject), root)
package pipeline
