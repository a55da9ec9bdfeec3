package pipeline

import "time"

// Result is the outcome of one node, with child results for composite and retry nodes.
type Result struct {
	Node     string
	Kind     Kind
	Status   Status
	Skipped  bool
	Err      error
	Fault    any // recovered panic value, if any
	Duration time.Duration
	Children []Result
}

// Failed reports whether the node failed.
func (r Result) Failed() bool { return r.Status == Failed }

// Succeeded reports whether the node succeeded.
func (r Result) Succeeded() bool { return r.Status == Succeeded }

// Cause returns the error of the deepest failed node, or nil.
func (r Result) Cause() error {
	if r.Status != Failed {
		return nil
	}
	for i := len(r.Children) - 1; i >= 0; i-- {
		if r.Children[i].Status == Failed {
			if err := r.Children[i].Cause(); err != nil {
				return err
			}
		}
	}
	return r.Err
}

// FailedNode returns the name of the deepest failed node, or "".
func (r Result) FailedNode() string {
	if r.Status != Failed {
		return ""
	}
	for i := len(r.Children) - 1; i >= 0; i-- {
		if r.Children[i].Status == Failed {
			return r.Children[i].FailedNode()
		}
	}
	return r.Node
}

// Walk visits r and its descendants depth-first.
func (r Result) Walk(fn func(depth int, res Result)) {
	r.walk(0, fn)
}

func (r Result) walk(depth int, fn func(int, Result)) {
	fn(depth, r)
	for _, c := range r.Children {
		c.walk(depth+1, fn)
	}
}

// Find returns the first result with the given node name.
func (r Result) Find(name string) (Result, bool) {
	if r.Node == name {
		return r, true
	}
	for _, c := range r.Children {
		if found, ok := c.Find(name); ok {
			return found, true
		}
	}
	return Result{}, false
}
