package vm

import (
	"fmt"

	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/synapse"
)

type consensusDomain struct{}

func (consensusDomain) handle(s *Session, c *subContext, in synapse.Instruction, eff *Effect) error {
	ops := in.Operands
	switch in.Op {
	case opcode.CPropose:
		proposal := int32(ops[0])
		if _, exists := s.rounds[proposal]; exists {
			return fmt.Errorf("%w: proposal %d already open", ErrInvalidTransition, proposal)
		}
		data, err := c.regs.Get(int(ops[1]))
		if err != nil {
			return err
		}
		members := int(ops[2])
		if members < 1 {
			return fmt.Errorf("vm: proposal %d needs at least one member", proposal)
		}
		quorum := s.cfg.DefaultQuorum
		round := newRound(proposal, data, members, quorum)
		eff.Defer(func() { s.rounds[proposal] = round })
		eff.Trace(opcode.DomainConsensus, "propose", SeverityInfo,
			"proposal %d opened by agent %d (%d members)", proposal, s.cfg.AgentID, members)

	case opcode.CVote:
		round, err := s.roundArg(ops[0])
		if err != nil {
			return err
		}
		agent, vote := int32(ops[1]), ops[2]
		// Validate against a copy of the transition, then stage it. The
		// round cannot fail once staged because state is unchanged between
		// here and commit within the same dispatch.
		if round.State().Terminal() || round.State() == RoundEscalated {
			return fmt.Errorf("%w: vote on %s proposal %d", ErrInvalidTransition, round.State(), round.Proposal)
		}
		eff.Defer(func() { round.CastVote(agent, vote) })
		word := "approve"
		if vote != VoteApprove {
			word = "reject"
		}
		eff.Trace(opcode.DomainConsensus, "vote", SeverityInfo,
			"proposal %d: agent %d votes %s", round.Proposal, agent, word)

	case opcode.CQuorum:
		round, err := s.roundArg(ops[0])
		if err != nil {
			return err
		}
		fraction := float64(synapse.AsFloat(ops[1]))
		if round.State().Terminal() {
			return fmt.Errorf("%w: quorum change on %s proposal %d", ErrInvalidTransition, round.State(), round.Proposal)
		}
		eff.Defer(func() { round.SetQuorum(fraction) })
		eff.Trace(opcode.DomainConsensus, "quorum", SeverityInfo,
			"proposal %d: threshold %.2f of %d members", round.Proposal, fraction, round.Members)

	case opcode.CCommit:
		round, err := s.roundArg(ops[0])
		if err != nil {
			return err
		}
		committed, err := round.Commit()
		if err != nil {
			return err
		}
		var v int64
		if committed {
			v = 1
			eff.Trace(opcode.DomainConsensus, "commit", SeverityInfo,
				"proposal %d committed (%d/%d approvals)", round.Proposal, round.Approvals(), round.Quorum())
		} else {
			eff.Trace(opcode.DomainConsensus, "commit", SeverityWarn,
				"proposal %d below quorum (%d/%d approvals)", round.Proposal, round.Approvals(), round.Quorum())
		}
		eff.SetReg(int(ops[1]), v)

	case opcode.CReject:
		round, err := s.roundArg(ops[0])
		if err != nil {
			return err
		}
		if err := round.Reject(); err != nil {
			return err
		}
		eff.Trace(opcode.DomainConsensus, "reject", SeverityWarn, "proposal %d rejected", round.Proposal)

	case opcode.CVeto:
		round, err := s.roundArg(ops[0])
		if err != nil {
			return err
		}
		if err := round.Veto(int32(ops[1])); err != nil {
			return err
		}
		eff.Trace(opcode.DomainConsensus, "veto", SeverityWarn,
			"proposal %d vetoed by agent %d", round.Proposal, ops[1])

	case opcode.CTimeout:
		round, err := s.roundArg(ops[0])
		if err != nil {
			return err
		}
		if err := round.Timeout(); err != nil {
			return err
		}
		eff.Trace(opcode.DomainConsensus, "timeout", SeverityWarn,
			"proposal %d rejected on timeout", round.Proposal)

	case opcode.CEscalate:
		round, err := s.roundArg(ops[0])
		if err != nil {
			return err
		}
		if err := round.Escalate(int32(ops[1])); err != nil {
			return err
		}
		eff.Trace(opcode.DomainConsensus, "escalate", SeverityWarn,
			"proposal %d escalated to delegate %d", round.Proposal, ops[1])

	case opcode.CDelegate:
		round, err := s.roundArg(ops[0])
		if err != nil {
			return err
		}
		if err := round.Delegate(ops[1]); err != nil {
			return err
		}
		eff.Trace(opcode.DomainConsensus, "delegate", SeverityInfo,
			"proposal %d resolved by delegate: %s", round.Proposal, round.State())

	case opcode.CTally:
		round, err := s.roundArg(ops[1])
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), int64(round.Approvals()))

	case opcode.CStatus:
		round, err := s.roundArg(ops[1])
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), int64(round.State()))

	case opcode.CSync:
		round, err := s.roundArg(ops[1])
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), round.Digest())

	default:
		return fmt.Errorf("%w: 0x%02X in consensus domain", opcode.ErrUnknownOpcode, byte(in.Op))
	}
	return nil
}

func (s *Session) roundArg(proposal int64) (*Round, error) {
	round, ok := s.rounds[int32(proposal)]
	if !ok {
		return nil, fmt.Errorf("vm: no round for proposal %d", proposal)
	}
	return round, nil
}
