package engine

import "github.com/CoinCulture/agnes/consensus/bft"

// InputKind enumerates the external events the Executor accepts.
type InputKind int

const (
	InputProposal InputKind = iota
	InputVote
	InputTimeout
)

// Input is one external event handed to Executor.Apply: a proposal or vote
// received from a peer, or a timeout firing.
type Input[V comparable] struct {
	Kind InputKind

	Proposal bft.Proposal[V]

	Voter    string
	VoteType bft.VoteType
	Vote     bft.Vote[V]

	Timeout bft.Timeout
}

func ProposalInput[V comparable](p bft.Proposal[V]) Input[V] {
	return Input[V]{Kind: InputProposal, Proposal: p}
}

func VoteInput[V comparable](voter string, voteType bft.VoteType, v bft.Vote[V]) Input[V] {
	return Input[V]{Kind: InputVote, Voter: voter, VoteType: voteType, Vote: v}
}

func TimeoutInput[V comparable](t bft.Timeout) Input[V] {
	return Input[V]{Kind: InputTimeout, Timeout: t}
}
