package bft

import "testing"

const testHeight = uint64(1)

func TestHappyPath(t *testing.T) {
	s := NewState[string](testHeight)

	s, m := Next(s, RoundEvent[string]{Round: 0, Event: NewRoundProposerEvent("v1")})
	if m == nil || m.Kind != MessageProposal || m.Value != "v1" || m.PolRound != -1 {
		t.Fatalf("expected proposal(v1, -1), got %+v", m)
	}
	if s.Step != StepPropose {
		t.Fatalf("expected step propose, got %v", s.Step)
	}

	s, m = Next(s, RoundEvent[string]{Round: 0, Event: ProposalEvent(-1, "v1")})
	if m == nil || m.Kind != MessagePrevote || !m.HasValue || m.Value != "v1" {
		t.Fatalf("expected prevote(v1), got %+v", m)
	}
	if s.Step != StepPrevote {
		t.Fatalf("expected step prevote, got %v", s.Step)
	}

	s, m = Next(s, RoundEvent[string]{Round: 0, Event: PolkaValueEvent("v1")})
	if m == nil || m.Kind != MessagePrecommit || !m.HasValue || m.Value != "v1" {
		t.Fatalf("expected precommit(v1), got %+v", m)
	}
	if s.Step != StepPrecommit || s.Locked == nil || s.Locked.Value != "v1" {
		t.Fatalf("expected locked on v1 at precommit, got %+v", s)
	}

	s, m = Next(s, RoundEvent[string]{Round: 0, Event: PrecommitValueEvent("v1")})
	if m == nil || m.Kind != MessageDecision || m.Value != "v1" || m.Round != 0 {
		t.Fatalf("expected decision(0, v1), got %+v", m)
	}
	if s.Step != StepCommit {
		t.Fatalf("expected step commit, got %v", s.Step)
	}
}

func TestNotProposerSchedulesProposeTimeout(t *testing.T) {
	s := NewState[string](testHeight)
	s, m := Next(s, RoundEvent[string]{Round: 0, Event: NewRoundEvent[string]()})
	if m == nil || m.Kind != MessageTimeout || m.Step != StepPropose {
		t.Fatalf("expected timeout(propose), got %+v", m)
	}
	if s.Step != StepPropose {
		t.Fatalf("expected step propose, got %v", s.Step)
	}
}

func TestTimeoutProposePrevotesNil(t *testing.T) {
	s := NewState[string](testHeight)
	s, _ = Next(s, RoundEvent[string]{Round: 0, Event: NewRoundEvent[string]()})
	s, m := Next(s, RoundEvent[string]{Round: 0, Event: Event[string]{Kind: EventTimeoutPropose}})
	if m == nil || m.Kind != MessagePrevote || m.HasValue {
		t.Fatalf("expected prevote(nil), got %+v", m)
	}
	if s.Step != StepPrevote {
		t.Fatalf("expected step prevote, got %v", s.Step)
	}
}

func TestInvalidProposalPrevotesNil(t *testing.T) {
	s := NewState[string](testHeight)
	s, _ = Next(s, RoundEvent[string]{Round: 0, Event: NewRoundProposerEvent("v1")})
	_, m := Next(s, RoundEvent[string]{Round: 0, Event: ProposalInvalidEvent[string]()})
	if m == nil || m.Kind != MessagePrevote || m.HasValue {
		t.Fatalf("expected prevote(nil), got %+v", m)
	}
}

// TestUnlocksOnNewerProposal covers the central safety/liveness tension: a
// validator locked on v at round 0 must unlock and prevote v2 if a later
// round's proposal carries a POL round at or after the lock.
func TestUnlocksOnNewerProposal(t *testing.T) {
	s := State[string]{Height: testHeight, Round: 1, Step: StepPropose, Locked: &RoundValue[string]{Round: 0, Value: "v1"}}
	_, m := Next(s, RoundEvent[string]{Round: 1, Event: ProposalEvent(0, "v2")})
	if m == nil || !m.HasValue || m.Value != "v2" {
		t.Fatalf("expected prevote(v2) after unlock, got %+v", m)
	}
}

// TestStaysLockedAgainstOlderPOL covers the converse: a lock from a more
// recent round than the proposal's POL round is not overridden.
func TestStaysLockedAgainstOlderPOL(t *testing.T) {
	s := State[string]{Height: testHeight, Round: 2, Step: StepPropose, Locked: &RoundValue[string]{Round: 1, Value: "v1"}}
	_, m := Next(s, RoundEvent[string]{Round: 2, Event: ProposalEvent(0, "v2")})
	if m == nil || m.HasValue {
		t.Fatalf("expected prevote(nil) while locked against stale POL, got %+v", m)
	}
}

func TestPolkaNilPrecommitsNil(t *testing.T) {
	s := State[string]{Height: testHeight, Round: 0, Step: StepPrevote}
	s, m := Next(s, RoundEvent[string]{Round: 0, Event: PolkaNilEvent[string]()})
	if m == nil || m.Kind != MessagePrecommit || m.HasValue {
		t.Fatalf("expected precommit(nil), got %+v", m)
	}
	if s.Locked != nil {
		t.Fatalf("precommitting nil must not set a lock, got %+v", s.Locked)
	}
}

func TestPolkaValueAfterPrecommitSetsValidOnly(t *testing.T) {
	s := State[string]{Height: testHeight, Round: 0, Step: StepPrecommit}
	s, m := Next(s, RoundEvent[string]{Round: 0, Event: PolkaValueEvent("v1")})
	if m != nil {
		t.Fatalf("expected no message from set_valid_value, got %+v", m)
	}
	if s.Step != StepPrecommit {
		t.Fatalf("set_valid_value must not change step, got %v", s.Step)
	}
	if s.Valid == nil || s.Valid.Value != "v1" || s.Valid.Round != 0 {
		t.Fatalf("expected valid value v1 at round 0, got %+v", s.Valid)
	}
}

func TestPrecommitTimeoutSkipsToNextRound(t *testing.T) {
	s := State[string]{Height: testHeight, Round: 3, Step: StepPrecommit}
	s, m := Next(s, RoundEvent[string]{Round: 3, Event: Event[string]{Kind: EventTimeoutPrecommit}})
	if m == nil || m.Kind != MessageNewRound || m.Round != 4 {
		t.Fatalf("expected new-round(4), got %+v", m)
	}
	if s.Round != 4 || s.Step != StepNewRound {
		t.Fatalf("expected round 4 at step new-round, got %+v", s)
	}
}

func TestRoundSkipOnlyMovesForward(t *testing.T) {
	s := State[string]{Height: testHeight, Round: 5, Step: StepPropose}

	// A round-skip event for a round we've already passed is ignored.
	unchanged, m := Next(s, RoundEvent[string]{Round: 4, Event: RoundSkipEvent[string]()})
	if m != nil || unchanged.Round != 5 {
		t.Fatalf("expected round-skip to a past round to be ignored, got state=%+v msg=%+v", unchanged, m)
	}

	advanced, m := Next(s, RoundEvent[string]{Round: 8, Event: RoundSkipEvent[string]()})
	if m == nil || m.Kind != MessageNewRound || m.Round != 8 {
		t.Fatalf("expected new-round(8), got %+v", m)
	}
	if advanced.Round != 8 {
		t.Fatalf("expected round 8, got %d", advanced.Round)
	}
}

func TestLockPersistsAcrossRoundSkip(t *testing.T) {
	s := State[string]{
		Height: testHeight, Round: 0, Step: StepPrecommit,
		Locked: &RoundValue[string]{Round: 0, Value: "v1"},
		Valid:  &RoundValue[string]{Round: 0, Value: "v1"},
	}
	s, _ = Next(s, RoundEvent[string]{Round: 0, Event: Event[string]{Kind: EventTimeoutPrecommit}})
	if s.Locked == nil || s.Locked.Value != "v1" {
		t.Fatalf("expected lock to survive a round skip, got %+v", s.Locked)
	}
}

func TestPrecommitValueCommitsRegardlessOfCurrentRound(t *testing.T) {
	// A late-arriving certificate for an earlier round still decides: the
	// guard on PrecommitValue is deliberately round-agnostic.
	s := State[string]{Height: testHeight, Round: 2, Step: StepPropose}
	s, m := Next(s, RoundEvent[string]{Round: 1, Event: PrecommitValueEvent("v1")})
	if m == nil || m.Kind != MessageDecision || m.Round != 1 || m.Value != "v1" {
		t.Fatalf("expected decision(1, v1), got %+v", m)
	}
	if s.Step != StepCommit {
		t.Fatalf("expected step commit, got %v", s.Step)
	}
}

func TestCommitIsTerminal(t *testing.T) {
	s := State[string]{Height: testHeight, Round: 0, Step: StepCommit}
	next, m := Next(s, RoundEvent[string]{Round: 0, Event: NewRoundEvent[string]()})
	if m != nil {
		t.Fatalf("expected no message once committed, got %+v", m)
	}
	if next != s {
		t.Fatalf("expected state unchanged once committed, got %+v", next)
	}
}

func TestWrongRoundEventsAreIgnored(t *testing.T) {
	s := State[string]{Height: testHeight, Round: 2, Step: StepPropose}
	next, m := Next(s, RoundEvent[string]{Round: 1, Event: ProposalEvent(-1, "v1")})
	if m != nil || next != s {
		t.Fatalf("expected stale-round proposal to be ignored, got state=%+v msg=%+v", next, m)
	}
}
