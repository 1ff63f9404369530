package tally

import (
	"math/big"

	"github.com/CoinCulture/agnes/consensus/bft"
)

// RoundVotes tracks every prevote and precommit cast within a single round,
// as two independent VoteCounts.
type RoundVotes[V comparable] struct {
	Round int

	prevotes   *VoteCount[V]
	precommits *VoteCount[V]
}

// NewRoundVotes returns an empty RoundVotes for round against the given
// total voting power.
func NewRoundVotes[V comparable](round int, total *big.Int) *RoundVotes[V] {
	return &RoundVotes[V]{
		Round:      round,
		prevotes:   newVoteCount[V](total),
		precommits: newVoteCount[V](total),
	}
}

// AddVote records a vote of the given type and returns the highest threshold
// reached by that vote type within the round so far.
func (r *RoundVotes[V]) AddVote(voteType bft.VoteType, value V, hasValue bool, weight *big.Int) Threshold[V] {
	switch voteType {
	case bft.VoteTypePrevote:
		return r.prevotes.addVote(value, hasValue, weight)
	case bft.VoteTypePrecommit:
		return r.precommits.addVote(value, hasValue, weight)
	default:
		return Threshold[V]{Kind: ThresholdInit}
	}
}
