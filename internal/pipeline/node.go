package pipeline

import (
	"context"

	"git.home.luguber.info/inful/exchangeset/internal/retry"
)

// Status is the outcome of a single node execution.
type Status string

const (
	NotRun    Status = "not_run"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
)

// Kind tags the node variant.
type Kind int

const (
	KindLeaf Kind = iota
	KindComposite
	KindRetry
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindComposite:
		return "composite"
	case KindRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Guard decides whether a node runs. It must not have side effects.
type Guard[S any] func(*Context[S]) bool

// ExecFunc performs a leaf node's effect. Expected failures return Failed with an
// error; a panic is converted into a Failed result carrying the fault.
type ExecFunc[S any] func(context.Context, *Context[S]) (Status, error)

// Node is one step of a pipeline tree. Exactly the fields for its Kind are used.
type Node[S any] struct {
	Name  string
	Kind  Kind
	Guard Guard[S]

	Exec     ExecFunc[S] // KindLeaf
	Children []Node[S]   // KindComposite
	Body     *Node[S]    // KindRetry
	Policy   retry.Policy
}

// Leaf creates a node that runs fn.
func Leaf[S any](name string, fn ExecFunc[S]) Node[S] {
	return Node[S]{Name: name, Kind: KindLeaf, Exec: fn}
}

// Step adapts an error-returning function into a leaf: nil is Succeeded, anything else Failed.
func Step[S any](name string, fn func(context.Context, *Context[S]) error) Node[S] {
	return Leaf(name, func(ctx context.Context, pc *Context[S]) (Status, error) {
		if err := fn(ctx, pc); err != nil {
			return Failed, err
		}
		return Succeeded, nil
	})
}

// Composite creates a node running children in order, stopping at the first failure.
func Composite[S any](name string, children ...Node[S]) Node[S] {
	return Node[S]{Name: name, Kind: KindComposite, Children: children}
}

// Retry wraps body so transient failures are re-run according to policy.
// The body's guard is evaluated before every attempt.
func Retry[S any](name string, policy retry.Policy, body Node[S]) Node[S] {
	return Node[S]{Name: name, Kind: KindRetry, Body: &body, Policy: policy}
}

// When returns a copy of the node guarded by g.
func (n Node[S]) When(g Guard[S]) Node[S] {
	n.Guard = g
	return n
}

// ShouldExecute evaluates the guard. Nodes without a guard always run.
func (n Node[S]) ShouldExecute(pc *Context[S]) bool {
	if n.Guard == nil {
		return true
	}
	return n.Guard(pc)
}
