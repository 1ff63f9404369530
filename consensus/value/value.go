// Package value defines the Value Provider collaborator: the boundary
// between the consensus core (which only ever compares opaque values by
// equality) and whatever builds and validates those values — a mempool, a
// block executor, an application state machine. None of that lives here.
package value

import "context"

// Provider supplies the value to propose when the Executor's owner is the
// round's proposer, and validates values carried on incoming proposals.
// Both methods take a context since a real implementation typically blocks
// on a mempool or execution call.
type Provider[V comparable] interface {
	// Value returns the value to propose for round, or false if none is
	// available (e.g. an empty mempool under a policy that refuses to
	// propose empty blocks).
	Value(ctx context.Context, round int) (V, bool)
	// Valid reports whether value, as carried on a received proposal, is
	// acceptable to propose on top of the current chain state.
	Valid(ctx context.Context, value V) bool
}
