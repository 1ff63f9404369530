// Package tally implements weighted vote counting for the BFT round state
// machine: per-round, per-type vote tallies (VoteCount, RoundVotes) and the
// VoteKeeper that turns incoming votes into the events consensus/bft.Next
// reacts to.
package tally

import "math/big"

// ThresholdKind is the highest quorum a VoteCount has reached.
type ThresholdKind int

const (
	// ThresholdInit means no quorum has been reached yet.
	ThresholdInit ThresholdKind = iota
	// ThresholdAny means quorum was reached, but split across nil and/or
	// more than one value, so the state machine can wait but cannot act on
	// any single value.
	ThresholdAny
	// ThresholdNil means quorum was reached for nil.
	ThresholdNil
	// ThresholdValue means quorum was reached for a single value.
	ThresholdValue
)

// Threshold is the result of tallying a vote: the highest quorum reached,
// and the value it was reached for when Kind is ThresholdValue.
type Threshold[V comparable] struct {
	Kind  ThresholdKind
	Value V
}

// isQuorum reports whether weight strictly exceeds two thirds of total
// voting power: 3*weight > 2*total.
func isQuorum(weight, total *big.Int) bool {
	lhs := new(big.Int).Mul(weight, big.NewInt(3))
	rhs := new(big.Int).Mul(total, big.NewInt(2))
	return lhs.Cmp(rhs) > 0
}

// isSkipThreshold reports whether weight strictly exceeds one third of
// total voting power: 3*weight > total.
func isSkipThreshold(weight, total *big.Int) bool {
	lhs := new(big.Int).Mul(weight, big.NewInt(3))
	return lhs.Cmp(total) > 0
}

// VoteCount tallies votes of a single type (prevote or precommit) within a
// single round. Unlike a design that tracks only "the" value plus nil, it
// tracks every distinct value seen so that a quorum is only ever reported
// for a value that genuinely reached it, never the most recently touched
// one.
type VoteCount[V comparable] struct {
	total       *big.Int
	nilWeight   *big.Int
	valueWeight map[V]*big.Int
}

func newVoteCount[V comparable](total *big.Int) *VoteCount[V] {
	return &VoteCount[V]{
		total:       new(big.Int).Set(total),
		nilWeight:   big.NewInt(0),
		valueWeight: make(map[V]*big.Int),
	}
}

// addVote records weight for nil (hasValue false) or for a value, and
// returns the highest threshold reached by this vote type so far.
func (c *VoteCount[V]) addVote(value V, hasValue bool, weight *big.Int) Threshold[V] {
	if !hasValue {
		c.nilWeight.Add(c.nilWeight, weight)
	} else {
		w, ok := c.valueWeight[value]
		if !ok {
			w = big.NewInt(0)
			c.valueWeight[value] = w
		}
		w.Add(w, weight)
	}

	for v, w := range c.valueWeight {
		if isQuorum(w, c.total) {
			return Threshold[V]{Kind: ThresholdValue, Value: v}
		}
	}
	if isQuorum(c.nilWeight, c.total) {
		return Threshold[V]{Kind: ThresholdNil}
	}

	sum := new(big.Int).Set(c.nilWeight)
	for _, w := range c.valueWeight {
		sum.Add(sum, w)
	}
	if isQuorum(sum, c.total) {
		return Threshold[V]{Kind: ThresholdAny}
	}
	return Threshold[V]{Kind: ThresholdInit}
}
