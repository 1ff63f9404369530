package tally

import (
	"math/big"
	"testing"

	"github.com/CoinCulture/agnes/consensus/bft"
)

func TestAddVoteReachesThresholds(t *testing.T) {
	total := big.NewInt(4)
	rv := NewRoundVotes[string](0, total)
	weight := big.NewInt(1)

	// One prevote for v1: no quorum yet.
	th := rv.AddVote(bft.VoteTypePrevote, "v1", true, weight)
	if th.Kind != ThresholdInit {
		t.Fatalf("expected init, got %+v", th)
	}

	// Same voter's vote would be deduped by VoteKeeper, but RoundVotes
	// itself just tallies weight it's given — a second distinct validator
	// with weight 1 for v1 still isn't quorum out of 4.
	th = rv.AddVote(bft.VoteTypePrevote, "v1", true, weight)
	if th.Kind != ThresholdInit {
		t.Fatalf("expected init, got %+v", th)
	}

	// A prevote for nil reaches 3/4 combined weight across votes cast,
	// which is "any" since it's split across nil and v1.
	th = rv.AddVote(bft.VoteTypePrevote, "v1", false, weight)
	if th.Kind != ThresholdAny {
		t.Fatalf("expected any, got %+v", th)
	}

	// A fourth vote for v1 pushes it over 2/3 on its own.
	th = rv.AddVote(bft.VoteTypePrevote, "v1", true, weight)
	if th.Kind != ThresholdValue || th.Value != "v1" {
		t.Fatalf("expected value(v1), got %+v", th)
	}
}

func TestVoteKeeperDeduplicatesPerValidator(t *testing.T) {
	k := NewVoteKeeper[string](big.NewInt(4))
	weight := big.NewInt(3)

	// 3 of 4 power crosses both the one-third round-skip threshold and the
	// two-thirds quorum, so the first vote emits round-skip then polka-value.
	events := k.Apply(0, "val-a", bft.VoteTypePrevote, "v1", true, weight)
	if len(events) != 2 || events[0].Event.Kind != bft.EventRoundSkip || events[1].Event.Kind != bft.EventPolkaValue {
		t.Fatalf("expected round-skip then polka-value, got %+v", events)
	}

	// Re-applying the same validator's vote must not double count or
	// re-emit the event.
	events = k.Apply(0, "val-a", bft.VoteTypePrevote, "v1", true, weight)
	if len(events) != 0 {
		t.Fatalf("expected no events from a duplicate vote, got %+v", events)
	}
}

func TestVoteKeeperPrecommitNilEmitsNoValueEvent(t *testing.T) {
	k := NewVoteKeeper[string](big.NewInt(4))
	events := k.Apply(0, "val-a", bft.VoteTypePrecommit, "", false, big.NewInt(3))
	for _, e := range events {
		if e.Event.Kind == bft.EventPrecommitValue {
			t.Fatalf("precommit for nil must not produce a precommit-value event")
		}
	}
}

func TestVoteKeeperRoundSkipFiresOnceAtOneThird(t *testing.T) {
	k := NewVoteKeeper[string](big.NewInt(9))

	events := k.Apply(3, "val-a", bft.VoteTypePrevote, "v1", true, big.NewInt(2))
	for _, e := range events {
		if e.Event.Kind == bft.EventRoundSkip {
			t.Fatalf("did not expect round-skip below threshold, got %+v", events)
		}
	}

	events = k.Apply(3, "val-b", bft.VoteTypePrevote, "v1", true, big.NewInt(2))
	found := false
	for _, e := range events {
		if e.Event.Kind == bft.EventRoundSkip && e.Round == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected round-skip once power crosses one third, got %+v", events)
	}

	// A third validator crossing further into the round must not re-fire
	// round-skip.
	events = k.Apply(3, "val-c", bft.VoteTypePrevote, "v1", true, big.NewInt(2))
	for _, e := range events {
		if e.Event.Kind == bft.EventRoundSkip {
			t.Fatalf("round-skip must only fire once per round, got %+v", events)
		}
	}
}

func TestVoteKeeperTracksRoundsIndependently(t *testing.T) {
	k := NewVoteKeeper[string](big.NewInt(4))
	k.Apply(0, "val-a", bft.VoteTypePrevote, "v1", true, big.NewInt(3))
	events := k.Apply(1, "val-a", bft.VoteTypePrevote, "v2", true, big.NewInt(3))
	found := false
	for _, e := range events {
		if e.Event.Kind == bft.EventPolkaValue && e.Round == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected round 1's votes to tally independently of round 0, got %+v", events)
	}
}
