package tally

import (
	"math/big"

	"github.com/CoinCulture/agnes/consensus/bft"
)

// VoteKeeper accumulates votes across every round of a single height and
// translates them into the events consensus/bft.Next reacts to: per-type
// quorum thresholds (ThresholdAny/Nil/Value) and the cross-type,
// cross-round one-third round-skip threshold. A vote from a given validator
// for a given round and vote type is only ever counted once.
type VoteKeeper[V comparable] struct {
	total *big.Int

	rounds map[int]*RoundVotes[V]
	seen   map[voteKey]struct{}

	roundVoters map[int]map[string]struct{}
	roundPower  map[int]*big.Int
	skipped     map[int]bool
}

type voteKey struct {
	round int
	typ   bft.VoteType
	voter string
}

// NewVoteKeeper returns an empty VoteKeeper against the given total voting
// power for the height.
func NewVoteKeeper[V comparable](total *big.Int) *VoteKeeper[V] {
	return &VoteKeeper[V]{
		total:       new(big.Int).Set(total),
		rounds:      make(map[int]*RoundVotes[V]),
		seen:        make(map[voteKey]struct{}),
		roundVoters: make(map[int]map[string]struct{}),
		roundPower:  make(map[int]*big.Int),
		skipped:     make(map[int]bool),
	}
}

func (k *VoteKeeper[V]) roundVotes(round int) *RoundVotes[V] {
	rv, ok := k.rounds[round]
	if !ok {
		rv = NewRoundVotes[V](round, k.total)
		k.rounds[round] = rv
	}
	return rv
}

// Apply records one vote from voter, with the given weight, and returns
// every RoundEvent it triggers, in order. A single vote can trigger both a
// round-skip event (the first time a voter is seen in a round that pushes
// the round's aggregate power over one third) and a per-type threshold
// event; callers should queue both onto the executor's re-injection queue.
//
// A duplicate vote — the same voter, round, and vote type seen twice — is
// recorded once for round-skip purposes (the voter is already known to be
// active in the round) but does not re-tally into the VoteCount, since a
// validator cannot increase its own weight by repeating itself.
func (k *VoteKeeper[V]) Apply(round int, voter string, voteType bft.VoteType, value V, hasValue bool, weight *big.Int) []bft.RoundEvent[V] {
	var events []bft.RoundEvent[V]

	if _, ok := k.roundVoters[round]; !ok {
		k.roundVoters[round] = make(map[string]struct{})
		k.roundPower[round] = big.NewInt(0)
	}
	if _, voted := k.roundVoters[round][voter]; !voted {
		k.roundVoters[round][voter] = struct{}{}
		k.roundPower[round].Add(k.roundPower[round], weight)
		if !k.skipped[round] && isSkipThreshold(k.roundPower[round], k.total) {
			k.skipped[round] = true
			events = append(events, bft.RoundEvent[V]{Round: round, Event: bft.RoundSkipEvent[V]()})
		}
	}

	key := voteKey{round: round, typ: voteType, voter: voter}
	if _, dup := k.seen[key]; dup {
		return events
	}
	k.seen[key] = struct{}{}

	threshold := k.roundVotes(round).AddVote(voteType, value, hasValue, weight)
	if ev, ok := toEvent(voteType, threshold); ok {
		events = append(events, bft.RoundEvent[V]{Round: round, Event: ev})
	}
	return events
}

// toEvent maps a vote type and the threshold it just reached onto the
// corresponding state-machine event. Precommit-for-nil quorum deliberately
// produces no event: the state machine only reacts to a precommit quorum
// when it is actionable (PrecommitAny to start the timeout, or
// PrecommitValue to decide).
func toEvent[V comparable](voteType bft.VoteType, t Threshold[V]) (bft.Event[V], bool) {
	switch {
	case t.Kind == ThresholdInit:
		return bft.Event[V]{}, false
	case voteType == bft.VoteTypePrevote && t.Kind == ThresholdAny:
		return bft.PolkaAnyEvent[V](), true
	case voteType == bft.VoteTypePrevote && t.Kind == ThresholdNil:
		return bft.PolkaNilEvent[V](), true
	case voteType == bft.VoteTypePrevote && t.Kind == ThresholdValue:
		return bft.PolkaValueEvent(t.Value), true
	case voteType == bft.VoteTypePrecommit && t.Kind == ThresholdAny:
		return bft.PrecommitAnyEvent[V](), true
	case voteType == bft.VoteTypePrecommit && t.Kind == ThresholdNil:
		return bft.Event[V]{}, false
	case voteType == bft.VoteTypePrecommit && t.Kind == ThresholdValue:
		return bft.PrecommitValueEvent(t.Value), true
	default:
		return bft.Event[V]{}, false
	}
}
