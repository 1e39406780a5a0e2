package vm

import (
	"fmt"
	"math"
	"sort"
)

// RoundState is the consensus sub-state-machine. Transitions are monotonic:
// once a round reaches Committed or Rejected it never leaves.
type RoundState int

const (
	RoundProposed RoundState = iota
	RoundVoting
	RoundEscalated
	RoundCommitted
	RoundRejected
)

// String returns a human-readable round state name.
func (r RoundState) String() string {
	switch r {
	case RoundProposed:
		return "proposed"
	case RoundVoting:
		return "voting"
	case RoundEscalated:
		return "escalated"
	case RoundCommitted:
		return "committed"
	case RoundRejected:
		return "rejected"
	default:
		return fmt.Sprintf("RoundState(%d)", int(r))
	}
}

// Terminal reports whether the state admits no further transitions.
func (r RoundState) Terminal() bool {
	return r == RoundCommitted || r == RoundRejected
}

// Vote values carried by C_VOTE.
const (
	VoteApprove int64 = 0
	VoteReject  int64 = 1
)

// Round tracks one consensus proposal: the agent votes, the quorum
// threshold, and the state machine. One Round exists per proposal id.
type Round struct {
	Proposal int32
	Data     int64 // opaque payload reference captured at proposal time
	Members  int

	state    RoundState
	quorum   int // minimum approve count to commit
	votes    map[int32]int64
	delegate int32
}

// newRound starts a round in Proposed with a majority quorum by default.
func newRound(proposal int32, data int64, members int, defaultQuorum float64) *Round {
	r := &Round{
		Proposal: proposal,
		Data:     data,
		Members:  members,
		state:    RoundProposed,
		votes:    make(map[int32]int64),
	}
	r.setQuorumFraction(defaultQuorum)
	return r
}

// State returns the current round state.
func (r *Round) State() RoundState { return r.state }

// Quorum returns the minimum approve count required to commit.
func (r *Round) Quorum() int { return r.quorum }

// setQuorumFraction converts a fractional threshold into a minimum vote
// count over the member set.
func (r *Round) setQuorumFraction(fraction float64) {
	if fraction <= 0 || fraction > 1 {
		fraction = 0.5
	}
	q := int(math.Ceil(fraction * float64(r.Members)))
	if q < 1 {
		q = 1
	}
	r.quorum = q
}

// SetQuorum adjusts the threshold. Only allowed before the round is
// terminal.
func (r *Round) SetQuorum(fraction float64) error {
	if r.state.Terminal() {
		return fmt.Errorf("%w: quorum change on %s proposal %d", ErrInvalidTransition, r.state, r.Proposal)
	}
	r.setQuorumFraction(fraction)
	return nil
}

// CastVote records one agent's vote. The first vote moves the round from
// Proposed to Voting; reaching quorum commits the round exactly once, as
// part of the same call. Votes after a terminal state or while escalated
// are invalid transitions.
func (r *Round) CastVote(agent int32, vote int64) error {
	switch r.state {
	case RoundProposed:
		r.state = RoundVoting
	case RoundVoting:
		// stay
	case RoundEscalated:
		return fmt.Errorf("%w: vote on escalated proposal %d", ErrInvalidTransition, r.Proposal)
	default:
		return fmt.Errorf("%w: vote on %s proposal %d", ErrInvalidTransition, r.state, r.Proposal)
	}
	r.votes[agent] = vote
	if r.Approvals() >= r.quorum {
		r.state = RoundCommitted
	}
	return nil
}

// Approvals returns the accumulated approve count.
func (r *Round) Approvals() int {
	n := 0
	for _, v := range r.votes {
		if v == VoteApprove {
			n++
		}
	}
	return n
}

// Commit attempts an explicit commit. Returns true if the round is (now)
// committed; false with no state change when quorum has not been reached.
// Committing an already-committed round is a no-op, not a fault.
func (r *Round) Commit() (bool, error) {
	switch r.state {
	case RoundCommitted:
		return true, nil
	case RoundRejected:
		return false, fmt.Errorf("%w: commit on rejected proposal %d", ErrInvalidTransition, r.Proposal)
	case RoundEscalated:
		return false, fmt.Errorf("%w: commit on escalated proposal %d (delegate pending)", ErrInvalidTransition, r.Proposal)
	}
	if r.Approvals() >= r.quorum {
		r.state = RoundCommitted
		return true, nil
	}
	return false, nil
}

// Reject moves the round to Rejected.
func (r *Round) Reject() error {
	if r.state.Terminal() {
		return fmt.Errorf("%w: reject on %s proposal %d", ErrInvalidTransition, r.state, r.Proposal)
	}
	r.state = RoundRejected
	return nil
}

// Veto is a rejection attributed to a single agent.
func (r *Round) Veto(agent int32) error {
	if err := r.Reject(); err != nil {
		return err
	}
	r.votes[agent] = VoteReject
	return nil
}

// Timeout rejects a round whose voting window expired.
func (r *Round) Timeout() error {
	return r.Reject()
}

// Escalate parks the round pending a delegate decision. Only reachable
// from Voting.
func (r *Round) Escalate(delegate int32) error {
	if r.state != RoundVoting {
		return fmt.Errorf("%w: escalate on %s proposal %d", ErrInvalidTransition, r.state, r.Proposal)
	}
	r.state = RoundEscalated
	r.delegate = delegate
	return nil
}

// Delegate resolves an escalated round: decision 0 commits, anything else
// rejects.
func (r *Round) Delegate(decision int64) error {
	if r.state != RoundEscalated {
		return fmt.Errorf("%w: delegate decision on %s proposal %d", ErrInvalidTransition, r.state, r.Proposal)
	}
	if decision == 0 {
		r.state = RoundCommitted
	} else {
		r.state = RoundRejected
	}
	return nil
}

// Digest folds the round into a 64-bit value both agents can compare to
// detect divergent views of the same proposal.
func (r *Round) Digest() int64 {
	agents := make([]int32, 0, len(r.votes))
	for a := range r.votes {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })

	d := uint64(uint32(r.Proposal))<<32 | uint64(uint32(r.state))<<8 | uint64(uint32(r.quorum))
	for _, a := range agents {
		d = d*1099511628211 ^ uint64(uint32(a))<<8 ^ uint64(uint32(r.votes[a]))
	}
	return int64(d)
}
