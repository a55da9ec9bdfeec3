package retry

import "sync/atomic"

// Source holds the current Policy and is safe for concurrent use, so a config
// reload can swap the policy while operations are in flight.
type Source struct {
	p atomic.Pointer[Policy]
}

// NewSource creates a Source holding p.
func NewSource(p Policy) *Source {
	s := &Source{}
	s.Set(p)
	return s
}

// Policy returns the current policy.
func (s *Source) Policy() Policy {
	return *s.p.Load()
}

// Set replaces the current policy.
func (s *Source) Set(p Policy) {
	s.p.Store(&p)
}
