package vm

import (
	"fmt"

	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/synapse"
)

type executionDomain struct{}

func (executionDomain) handle(s *Session, c *subContext, in synapse.Instruction, eff *Effect) error {
	ops := in.Operands
	switch in.Op {
	case opcode.XNop:
		// nothing

	case opcode.XHalt:
		eff.ctl = control{kind: ctlHalt}
		eff.Trace(opcode.DomainExecution, "halt", SeverityInfo, "ctx%d halted", c.id)

	case opcode.XYield:
		v, err := c.regs.Get(int(ops[0]))
		if err != nil {
			return err
		}
		eff.ctl = control{kind: ctlYield, code: v}

	case opcode.XSet:
		eff.SetReg(int(ops[0]), ops[1])

	case opcode.XMov:
		v, err := c.regs.Get(int(ops[1]))
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), v)

	case opcode.XJmp:
		eff.ctl = control{kind: ctlJump, target: int(ops[0])}

	case opcode.XJz, opcode.XJnz:
		v, err := c.regs.Get(int(ops[0]))
		if err != nil {
			return err
		}
		taken := (v == 0) == (in.Op == opcode.XJz)
		if taken {
			eff.ctl = control{kind: ctlJump, target: int(ops[1])}
		}

	case opcode.XLoop:
		// Decrement the counter; branch while it stays positive.
		v, err := c.regs.Get(int(ops[0]))
		if err != nil {
			return err
		}
		v--
		eff.SetReg(int(ops[0]), v)
		if v > 0 {
			eff.ctl = control{kind: ctlJump, target: int(ops[1])}
		}

	case opcode.XCall:
		eff.ctl = control{kind: ctlCall, target: int(ops[0])}

	case opcode.XRet:
		eff.ctl = control{kind: ctlRet}

	case opcode.XFork:
		eff.ctl = control{kind: ctlFork, reg: int(ops[0]), target: int(ops[1])}
		eff.Trace(opcode.DomainExecution, "fork", SeverityDebug, "ctx%d forks to pc=%d", c.id, ops[1])

	case opcode.XSpawn:
		eff.ctl = control{kind: ctlSpawn, reg: int(ops[0]), target: int(ops[1])}
		eff.Trace(opcode.DomainExecution, "spawn", SeverityDebug, "ctx%d spawns at pc=%d", c.id, ops[1])

	case opcode.XJoin, opcode.XKill, opcode.XSleep, opcode.XWake:
		id, err := c.regs.Get(int(ops[0]))
		if err != nil {
			return err
		}
		kind := map[opcode.Opcode]ctlKind{
			opcode.XJoin:  ctlJoin,
			opcode.XKill:  ctlKill,
			opcode.XSleep: ctlSleep,
			opcode.XWake:  ctlWake,
		}[in.Op]
		eff.ctl = control{kind: kind, id: int(id)}

	case opcode.XResume:
		// Only meaningful as the head of a batch against a trapped
		// session; mid-program it is a no-op.
		eff.Trace(opcode.DomainExecution, "resume", SeverityWarn, "X_RESUME outside trap recovery ignored")

	case opcode.XTrap:
		eff.ctl = control{kind: ctlTrap, code: ops[0]}
		eff.Trace(opcode.DomainExecution, "trap", SeverityWarn, "voluntary trap code=%d", ops[0])

	case opcode.XAbort:
		eff.ctl = control{kind: ctlAbort, code: ops[0]}
		eff.Trace(opcode.DomainExecution, "abort", SeverityError, "abort code=%d", ops[0])

	default:
		return fmt.Errorf("%w: 0x%02X in execution domain", opcode.ErrUnknownOpcode, byte(in.Op))
	}
	return nil
}
