package vm

import (
	"fmt"

	"github.com/scrawlvm/scrawl/pkg/identity"
	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/synapse"
)

type identityDomain struct{}

func (identityDomain) handle(s *Session, c *subContext, in synapse.Instruction, eff *Effect) error {
	ops := in.Operands
	switch in.Op {
	case opcode.IDerive:
		creg := int(ops[0])
		if _, err := c.regs.GetContext(creg); err != nil {
			return err
		}
		seed, depth := uint32(ops[1]), int(ops[2])
		b, err := identity.NewBaseline(seed, depth)
		if err != nil {
			return err
		}
		eff.SetBaseline(creg, b)
		eff.SetContextReg(creg, int64(seed))
		eff.Trace(opcode.DomainIdentity, "derive", SeverityInfo,
			"CR%d = baseline(seed=0x%04X, depth=%d)", creg, seed, depth)

	case opcode.IVerify:
		b, err := s.baselineArg(int(ops[1]))
		if err != nil {
			return err
		}
		var ok int64
		if b.Verify() {
			ok = 1
			eff.Trace(opcode.DomainIdentity, "verify", SeverityInfo, "CR%d chain verified", ops[1])
		} else {
			eff.Trace(opcode.DomainIdentity, "verify", SeverityError, "CR%d chain corrupt", ops[1])
		}
		eff.SetReg(int(ops[0]), ok)

	case opcode.IFingerprint:
		b, err := s.baselineArg(int(ops[1]))
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), int64(b.Fingerprint()))

	case opcode.IHandshake:
		b, err := s.baselineArg(int(ops[1]))
		if err != nil {
			return err
		}
		peer, err := c.regs.Get(int(ops[2]))
		if err != nil {
			return err
		}
		var match int64
		if uint64(peer) == b.Fingerprint() {
			match = 1
			eff.Trace(opcode.DomainIdentity, "handshake", SeverityInfo, "CR%d fingerprint match", ops[1])
		} else {
			eff.Trace(opcode.DomainIdentity, "handshake", SeverityWarn, "CR%d fingerprint mismatch", ops[1])
		}
		eff.SetReg(int(ops[0]), match)

	case opcode.IGnomon:
		sq, err := c.regs.Get(int(ops[1]))
		if err != nil {
			return err
		}
		a, err := c.regs.Get(int(ops[2]))
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), int64(identity.GnomonUpdate(uint32(sq), uint32(a))))

	case opcode.IChain:
		b, err := s.baselineArg(int(ops[1]))
		if err != nil {
			return err
		}
		v, err := b.Chain(int(ops[2]))
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), int64(v))

	case opcode.ISign:
		b, err := s.baselineArg(int(ops[1]))
		if err != nil {
			return err
		}
		v, err := c.regs.Get(int(ops[2]))
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), v^int64(b.Fingerprint()))

	case opcode.ICheck:
		b, err := s.baselineArg(int(ops[1]))
		if err != nil {
			return err
		}
		var ok int64
		if b.VerifyElement(int(ops[2])) {
			ok = 1
		} else {
			eff.Trace(opcode.DomainIdentity, "check", SeverityError,
				"CR%d chain element %d fails the algebraic probe", ops[1], ops[2])
		}
		eff.SetReg(int(ops[0]), ok)

	default:
		return fmt.Errorf("%w: 0x%02X in identity domain", opcode.ErrUnknownOpcode, byte(in.Op))
	}
	return nil
}

func (s *Session) baselineArg(creg int) (*identity.Baseline, error) {
	b := s.baselines[creg]
	if b == nil {
		return nil, fmt.Errorf("vm: CR%d holds no baseline", creg)
	}
	return b, nil
}
