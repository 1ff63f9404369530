package bft

// Next transitions the state machine by one step. Given a state and an
// input event for a round, it returns the (possibly unchanged) resulting
// state and at most one output message. A nil message means the event was
// either ignored (wrong round, wrong step) or only updated internal
// bookkeeping (e.g. set_valid_value) without anything to emit.
//
// Next is pure and allocates no goroutines, timers, or channels: it is safe
// to call from a single-threaded driver loop and trivial to unit test by
// feeding it a sequence of (state, event) pairs.
func Next[V comparable](s State[V], re RoundEvent[V]) (State[V], *Message[V]) {
	eqr := s.Round == re.Round
	ev := re.Event

	switch {
	// From NewRound. The event must target the current round.
	case s.Step == StepNewRound && ev.Kind == EventNewRoundProposer && eqr:
		return propose(s, ev.Value)
	case s.Step == StepNewRound && ev.Kind == EventNewRound && eqr:
		return scheduleTimeoutPropose(s)

	// From Propose. The event must target the current round.
	case s.Step == StepPropose && ev.Kind == EventProposal && eqr && s.validPOLRound(ev.PolRound):
		return prevote(s, ev.PolRound, ev.Value)
	case s.Step == StepPropose && ev.Kind == EventProposalInvalid && eqr:
		return prevoteNil(s)
	case s.Step == StepPropose && ev.Kind == EventTimeoutPropose && eqr:
		return prevoteNil(s)

	// From Prevote. The event must target the current round.
	case s.Step == StepPrevote && ev.Kind == EventPolkaAny && eqr:
		return scheduleTimeoutPrevote(s)
	case s.Step == StepPrevote && ev.Kind == EventPolkaNil && eqr:
		return precommitNil(s)
	case s.Step == StepPrevote && ev.Kind == EventPolkaValue && eqr:
		return precommit(s, ev.Value)
	case s.Step == StepPrevote && ev.Kind == EventTimeoutPrevote && eqr:
		return precommitNil(s)

	// From Precommit. The event must target the current round.
	case s.Step == StepPrecommit && ev.Kind == EventPolkaValue && eqr:
		return setValidValue(s, ev.Value)

	// From Commit, nothing moves the state machine further.
	case s.Step == StepCommit:
		return s, nil

	// From any non-terminal step: round-scoped guards that don't depend on
	// the current step.
	case ev.Kind == EventPrecommitAny && eqr:
		return scheduleTimeoutPrecommit(s)
	case ev.Kind == EventTimeoutPrecommit && eqr:
		return roundSkip(s, re.Round+1)
	case ev.Kind == EventRoundSkip && s.Round < re.Round:
		return roundSkip(s, re.Round)
	case ev.Kind == EventPrecommitValue:
		return commit(s, re.Round, ev.Value)

	default:
		return s, nil
	}
}

// propose: we are the proposer for this round. Propose the valid value if
// one is locked in from an earlier round, otherwise propose v.
func propose[V comparable](s State[V], v V) (State[V], *Message[V]) {
	s = s.nextStep()
	value, polRound := v, -1
	if s.Valid != nil {
		value, polRound = s.Valid.Value, s.Valid.Round
	}
	return s, newProposalMessage(s.Round, value, polRound)
}

// prevote: a complete proposal arrived. Prevote it unless we're locked on a
// different value from a round more recent than the proposal's POL round,
// in which case we prevote nil.
func prevote[V comparable](s State[V], vr int, proposed V) (State[V], *Message[V]) {
	s = s.nextStep()
	var value V
	hasValue := true
	switch {
	case s.Locked != nil && s.Locked.Round <= vr:
		value = proposed // unlock and prevote the newer value
	case s.Locked != nil && s.Locked.Value == proposed:
		value = proposed // already locked on this value
	case s.Locked != nil:
		hasValue = false // locked on something else more recently: prevote nil
	default:
		value = proposed // not locked: prevote the proposal
	}
	return s, newVoteMessage(MessagePrevote, s.Round, value, hasValue)
}

// prevoteNil: the proposal was invalid/empty, or we timed out waiting for
// one.
func prevoteNil[V comparable](s State[V]) (State[V], *Message[V]) {
	s = s.nextStep()
	var zero V
	return s, newVoteMessage(MessagePrevote, s.Round, zero, false)
}

// precommit: +2/3 prevotes landed on a value. Lock and mark it valid, then
// precommit it. A later PolkaValue in the same round finds the step at
// Precommit and goes to setValidValue instead.
func precommit[V comparable](s State[V], v V) (State[V], *Message[V]) {
	s = s.withLocked(v).withValid(v).nextStep()
	return s, newVoteMessage(MessagePrecommit, s.Round, v, true)
}

// precommitNil: +2/3 prevotes landed on nil, or we timed out waiting for
// prevotes.
func precommitNil[V comparable](s State[V]) (State[V], *Message[V]) {
	s = s.nextStep()
	var zero V
	return s, newVoteMessage(MessagePrecommit, s.Round, zero, false)
}

// scheduleTimeoutPropose: we're not the proposer this round; wait for one.
func scheduleTimeoutPropose[V comparable](s State[V]) (State[V], *Message[V]) {
	s = s.nextStep()
	return s, newTimeoutMessage[V](s.Round, StepPropose)
}

// scheduleTimeoutPrevote: +2/3 prevotes landed on something, but we haven't
// committed to a value yet; give the round a chance to converge.
func scheduleTimeoutPrevote[V comparable](s State[V]) (State[V], *Message[V]) {
	return s, newTimeoutMessage[V](s.Round, StepPrevote)
}

// scheduleTimeoutPrecommit: +2/3 precommits landed on something, but not all
// on the same value; give the round a chance to finish before skipping.
func scheduleTimeoutPrecommit[V comparable](s State[V]) (State[V], *Message[V]) {
	return s, newTimeoutMessage[V](s.Round, StepPrecommit)
}

// setValidValue: we already precommitted this round, but a later polka for a
// value still arrived; remember it as valid for the next proposal, without
// otherwise changing step.
func setValidValue[V comparable](s State[V], v V) (State[V], *Message[V]) {
	return s.withValid(v), nil
}

// roundSkip: either the precommit timeout fired, or +1/3 of the voting power
// has moved to a higher round. Either way, follow them.
func roundSkip[V comparable](s State[V], r int) (State[V], *Message[V]) {
	s = s.withRound(r)
	return s, newRoundMessage[V](r)
}

// commit: +2/3 precommits landed on a value. Decide it.
func commit[V comparable](s State[V], r int, v V) (State[V], *Message[V]) {
	s = s.commitStep()
	return s, newDecisionMessage(r, v)
}
