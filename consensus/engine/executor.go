package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/CoinCulture/agnes/consensus/bft"
	"github.com/CoinCulture/agnes/consensus/tally"
	"github.com/CoinCulture/agnes/consensus/value"
)

const (
	defaultInputsPerSecond = 200
	defaultBurst           = 50
)

// Recorder receives instrumentation callbacks from the Executor.
// observability/metrics implements this against Prometheus; tests can pass
// a no-op or a counting fake.
type Recorder interface {
	ObserveStep(height uint64, round int, step bft.Step)
	ObserveMessage(kind bft.MessageKind)
	ObserveReinjectionDepth(n int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveStep(uint64, int, bft.Step) {}
func (noopRecorder) ObserveMessage(bft.MessageKind)    {}
func (noopRecorder) ObserveReinjectionDepth(int)       {}

// Option configures an Executor at construction time.
type Option[V comparable] func(*Executor[V])

func WithLogger[V comparable](l *slog.Logger) Option[V] {
	return func(e *Executor[V]) { e.logger = l }
}

func WithRecorder[V comparable](r Recorder) Option[V] {
	return func(e *Executor[V]) { e.recorder = r }
}

func WithTracer[V comparable](t trace.Tracer) Option[V] {
	return func(e *Executor[V]) { e.tracer = t }
}

// WithRateLimit overrides the default admission rate for external inputs,
// guarding Apply against a flooding or misbehaving peer.
func WithRateLimit[V comparable](inputsPerSecond float64, burst int) Option[V] {
	return func(e *Executor[V]) { e.limiter = rate.NewLimiter(rate.Limit(inputsPerSecond), burst) }
}

// Executor drives a single height of consensus: it owns the round state
// machine and vote tally, accepts external inputs one at a time, and
// re-injects the state machine's own output back through translation until
// the re-injection queue runs dry. Apply is synchronous and safe for
// concurrent callers; the Executor serializes them internally.
type Executor[V comparable] struct {
	mu sync.Mutex

	self string

	state bft.State[V]
	votes *tally.VoteKeeper[V]

	validators  ValidatorSet
	values      value.Provider[V]
	broadcaster Broadcaster[V]
	timeouts    TimeoutScheduler

	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
	limiter  *rate.Limiter

	decided      bool
	decidedValue V
	decidedRound int
}

// NewExecutor constructs an Executor for self at the given height. self
// identifies our own validator for proposer checks and for tallying our own
// votes once they're broadcast.
func NewExecutor[V comparable](
	height uint64,
	self string,
	validators ValidatorSet,
	values value.Provider[V],
	broadcaster Broadcaster[V],
	timeouts TimeoutScheduler,
	opts ...Option[V],
) *Executor[V] {
	e := &Executor[V]{
		self:        self,
		state:       bft.NewState[V](height),
		votes:       tally.NewVoteKeeper[V](validators.TotalPower()),
		validators:  validators,
		values:      values,
		broadcaster: broadcaster,
		timeouts:    timeouts,
		logger:      slog.Default(),
		recorder:    noopRecorder{},
		tracer:      otel.Tracer("consensus/engine"),
		limiter:     rate.NewLimiter(rate.Limit(defaultInputsPerSecond), defaultBurst),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns a snapshot of the current round state machine state.
func (e *Executor[V]) State() bft.State[V] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Decided reports the decided value and round for this height, if a
// decision has been reached yet.
func (e *Executor[V]) Decided() (value V, round int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decidedValue, e.decidedRound, e.decided
}

// Start kicks off round 0: it checks whether self is round 0's proposer and
// feeds the corresponding NewRound event, then drains whatever that
// produces.
func (e *Executor[V]) Start(ctx context.Context) []bft.Message[V] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drain(ctx, e.beginRound(ctx, e.state.Round))
}

// Apply processes one external input against the state machine, following
// every message it emits back through translation until no further event
// is produced, and returns every message surfaced along the way, in order.
func (e *Executor[V]) Apply(ctx context.Context, input Input[V]) []bft.Message[V] {
	if !e.limiter.Allow() {
		e.logger.WarnContext(ctx, "dropping consensus input: rate limit exceeded")
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "consensus.Apply", trace.WithAttributes(
		attribute.String("request_id", uuid.NewString()),
		attribute.Int("input_kind", int(input.Kind)),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drain(ctx, e.translateInput(ctx, input))
}

// workItem is a single queued (round, event) pair awaiting application to
// the state machine. drain processes these depth-first via an explicit
// slice-backed stack rather than recursion, so re-injection depth never
// grows the call stack while still preserving the causal order recursion
// would have produced: the events one step re-injects are fully resolved,
// descendants and all, before control returns to whatever was queued ahead
// of them.
type workItem[V comparable] struct {
	round int
	event bft.Event[V]
}

func toWorkItems[V comparable](events []bft.RoundEvent[V]) []workItem[V] {
	items := make([]workItem[V], len(events))
	for i, re := range events {
		items[i] = workItem[V]{round: re.Round, event: re.Event}
	}
	return items
}

// drain runs the re-injection loop: pop the most recently queued event,
// apply it to the state machine, and push whatever it re-injects back onto
// the front of the stack ahead of anything still pending, so those
// re-injected events (and everything they in turn trigger) are fully
// resolved before the loop returns to the next sibling. Callers must hold
// e.mu.
func (e *Executor[V]) drain(ctx context.Context, initial []bft.RoundEvent[V]) []bft.Message[V] {
	stack := toWorkItems(initial)

	var out []bft.Message[V]
	depth := 0
	for len(stack) > 0 {
		depth++
		item := stack[0]
		stack = stack[1:]

		nextState, msg := bft.Next(e.state, bft.RoundEvent[V]{Round: item.round, Event: item.event})
		e.state = nextState
		e.recorder.ObserveStep(e.state.Height, e.state.Round, e.state.Step)

		if msg == nil {
			continue
		}
		e.recorder.ObserveMessage(msg.Kind)
		out = append(out, *msg)

		var reinjected []workItem[V]
		switch msg.Kind {
		case bft.MessageNewRound:
			reinjected = toWorkItems(e.beginRound(ctx, msg.Round))
		case bft.MessageProposal:
			e.broadcaster.BroadcastMessage(*msg)
			reinjected = toWorkItems(e.reflectProposal(*msg))
		case bft.MessagePrevote, bft.MessagePrecommit:
			e.broadcaster.BroadcastMessage(*msg)
			reinjected = toWorkItems(e.reflectOwnVote(*msg))
		case bft.MessageTimeout:
			e.timeouts.ScheduleTimeout(bft.Timeout{Round: msg.Round, Step: msg.Step})
		case bft.MessageDecision:
			e.decided = true
			e.decidedValue = msg.Value
			e.decidedRound = msg.Round
		}
		if len(reinjected) > 0 {
			stack = append(reinjected, stack...)
		}
	}
	e.recorder.ObserveReinjectionDepth(depth)
	return out
}

// beginRound decides whether self is the proposer for round and, if so,
// asks the Value Provider for a value to propose.
func (e *Executor[V]) beginRound(ctx context.Context, round int) []bft.RoundEvent[V] {
	if e.validators.IsProposer(e.self, round) {
		if v, ok := e.values.Value(ctx, round); ok {
			return []bft.RoundEvent[V]{{Round: round, Event: bft.NewRoundProposerEvent(v)}}
		}
	}
	return []bft.RoundEvent[V]{{Round: round, Event: bft.NewRoundEvent[V]()}}
}

// reflectProposal re-injects our own just-broadcast proposal as though it
// had been received, so the proposer prevotes its own value exactly the way
// any other validator would.
func (e *Executor[V]) reflectProposal(msg bft.Message[V]) []bft.RoundEvent[V] {
	return []bft.RoundEvent[V]{{Round: msg.Round, Event: bft.ProposalEvent(msg.PolRound, msg.Value)}}
}

// reflectOwnVote re-injects our own just-broadcast vote into the vote
// tally, using our own voting power, exactly as an externally received vote
// would be.
func (e *Executor[V]) reflectOwnVote(msg bft.Message[V]) []bft.RoundEvent[V] {
	voteType := bft.VoteTypePrevote
	if msg.Kind == bft.MessagePrecommit {
		voteType = bft.VoteTypePrecommit
	}
	weight := e.validators.Weight(e.self)
	if weight == nil {
		e.logger.Warn("own voting power unknown; dropping self vote", "validator", e.self)
		return nil
	}
	return e.votes.Apply(msg.Round, e.self, voteType, msg.Value, msg.HasValue, weight)
}

// translateInput converts one external Input into zero or more RoundEvents.
// Proposals and timeouts map directly; votes go through the vote tally,
// which may also surface a round-skip event alongside a threshold event.
func (e *Executor[V]) translateInput(ctx context.Context, input Input[V]) []bft.RoundEvent[V] {
	switch input.Kind {
	case InputProposal:
		ev := bft.ProposalEvent(input.Proposal.PolRound, input.Proposal.Value)
		if !e.values.Valid(ctx, input.Proposal.Value) {
			ev = bft.ProposalInvalidEvent[V]()
		}
		return []bft.RoundEvent[V]{{Round: input.Proposal.Round, Event: ev}}

	case InputVote:
		weight := e.validators.Weight(input.Voter)
		if weight == nil {
			e.logger.WarnContext(ctx, "dropping vote from unknown validator", "voter", input.Voter)
			return nil
		}
		return e.votes.Apply(input.Vote.Round, input.Voter, input.VoteType, input.Vote.Value, input.Vote.HasValue, weight)

	case InputTimeout:
		kind, ok := timeoutEventKind(input.Timeout.Step)
		if !ok {
			return nil
		}
		return []bft.RoundEvent[V]{{Round: input.Timeout.Round, Event: bft.Event[V]{Kind: kind}}}

	default:
		return nil
	}
}

func timeoutEventKind(step bft.Step) (bft.EventKind, bool) {
	switch step {
	case bft.StepPropose:
		return bft.EventTimeoutPropose, true
	case bft.StepPrevote:
		return bft.EventTimeoutPrevote, true
	case bft.StepPrecommit:
		return bft.EventTimeoutPrecommit, true
	default:
		return 0, false
	}
}
