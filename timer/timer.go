// Package timer provides a real wall-clock implementation of
// engine.TimeoutScheduler. The round state machine never measures time
// itself; it only ever emits a MessageTimeout carrying the round and step it
// wants to wait on, and relies on an external scheduler to call back once
// that duration elapses.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/CoinCulture/agnes/consensus/bft"
)

// Durations configures how long the scheduler waits for each step before
// firing the corresponding timeout input.
type Durations struct {
	Propose   time.Duration
	Prevote   time.Duration
	Precommit time.Duration
}

// DefaultDurations mirrors a conservative single-digit-second round, long
// enough for a loopback demo network to never spuriously time out.
func DefaultDurations() Durations {
	return Durations{
		Propose:   3 * time.Second,
		Prevote:   1 * time.Second,
		Precommit: 1 * time.Second,
	}
}

func (d Durations) forStep(step bft.Step) time.Duration {
	switch step {
	case bft.StepPropose:
		return d.Propose
	case bft.StepPrevote:
		return d.Prevote
	case bft.StepPrecommit:
		return d.Precommit
	default:
		return 0
	}
}

// Fire is invoked once a scheduled timeout elapses and has not since been
// cancelled by a round change.
type Fire func(ctx context.Context, t bft.Timeout)

// Scheduler schedules round timeouts against the real clock and cancels any
// still-pending timer for a round once that round is left behind, so a slow
// precommit timer from round 2 can never fire after the Executor has already
// moved on to round 5.
type Scheduler struct {
	mu        sync.Mutex
	durations Durations
	fire      Fire
	pending   map[bft.Timeout]*time.Timer
}

// New constructs a Scheduler. fire is called on its own goroutine once a
// timeout elapses; callers are expected to route it back into
// Executor.Apply.
func New(durations Durations, fire Fire) *Scheduler {
	return &Scheduler{
		durations: durations,
		fire:      fire,
		pending:   make(map[bft.Timeout]*time.Timer),
	}
}

// ScheduleTimeout implements engine.TimeoutScheduler.
func (s *Scheduler) ScheduleTimeout(t bft.Timeout) {
	d := s.durations.forStep(t.Step)
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.pending[t]; ok {
		existing.Stop()
	}
	s.pending[t] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.pending, t)
		s.mu.Unlock()
		s.fire(context.Background(), t)
	})
}

// CancelRound stops every pending timer for rounds strictly before round,
// since the round state machine guards re-delivery itself but there is no
// reason to keep a stale timer alive.
func (s *Scheduler) CancelRound(round int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, timer := range s.pending {
		if t.Round < round {
			timer.Stop()
			delete(s.pending, t)
		}
	}
}
