// Package engine implements the Executor: the driver that owns a round
// state machine and a vote tally, feeds external inputs through them, and
// re-injects the proposals, votes and round changes the state machine emits
// back through the same translation step until nothing further is produced;
// timeouts and decisions are surfaced, not re-injected. Networking, signing,
// timers, and validator-set management all live behind the narrow
// collaborator interfaces declared in this file.
package engine

import (
	"math/big"

	"github.com/CoinCulture/agnes/consensus/bft"
)

// ValidatorSet is the external collaborator that knows voting power and
// proposer selection for a height. The Executor never mutates it.
type ValidatorSet interface {
	// TotalPower is the sum of voting power across the validator set.
	TotalPower() *big.Int
	// Weight returns voter's voting power, or nil if voter is not a member
	// of the set.
	Weight(voter string) *big.Int
	// IsProposer reports whether voter is the proposer for round.
	IsProposer(voter string, round int) bool
}

// Broadcaster is the external collaborator that gossips proposals and votes
// to peers. The Executor never opens a socket; it only ever hands a
// Broadcaster a Message to sign, serialize, and send.
type Broadcaster[V comparable] interface {
	BroadcastMessage(msg bft.Message[V])
}

// TimeoutScheduler is the external collaborator that owns wall-clock
// timers. It is expected to call Executor.Apply with a TimeoutInput once a
// scheduled timeout fires.
type TimeoutScheduler interface {
	ScheduleTimeout(t bft.Timeout)
}
