// Package normalization converts loosely formatted user input into typed enum values.
package normalization

import (
	"fmt"
	"sort"
	"strings"
)

// Func normalizes a raw key before lookup.
type Func func(string) string

// Lower trims whitespace and lower-cases the input.
func Lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Upper trims whitespace and upper-cases the input.
func Upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// Normalizer provides type-safe string-to-enum normalization.
type Normalizer[T comparable] struct {
	values       map[string]T
	defaultValue T
	keys         []string
	fn           Func
}

// New creates a normalizer using case-insensitive matching.
func New[T comparable](values map[string]T, defaultValue T) *Normalizer[T] {
	return NewWith(values, defaultValue, Lower)
}

// NewWith creates a normalizer with a custom key normalization function.
func NewWith[T comparable](values map[string]T, defaultValue T, fn Func) *Normalizer[T] {
	n := &Normalizer[T]{
		values:       make(map[string]T, len(values)),
		defaultValue: defaultValue,
		keys:         make([]string, 0, len(values)),
		fn:           fn,
	}
	for k, v := range values {
		nk := fn(k)
		n.values[nk] = v
		n.keys = append(n.keys, nk)
	}
	sort.Strings(n.keys)
	return n
}

// Normalize returns the matching value or the default for unknown input.
func (n *Normalizer[T]) Normalize(raw string) T {
	if v, ok := n.values[n.fn(raw)]; ok {
		return v
	}
	return n.defaultValue
}

// Parse returns the matching value or an error listing the valid options.
func (n *Normalizer[T]) Parse(raw string) (T, error) {
	if v, ok := n.values[n.fn(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid value %q, valid options: %v", raw, n.keys)
}

// Keys returns the sorted normalized keys.
func (n *Normalizer[T]) Keys() []string {
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}
