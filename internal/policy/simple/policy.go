// Package simple provides the pass-through politeness policy used when rate
// limiting is disabled.
package simple

import "context"

// Policy admits every fetch immediately. It implements job.Policy.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Acquire always grants the slot.
func (Policy) Acquire(context.Context, string) error {
	return nil
}
