package vm

import (
	"fmt"

	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/register"
	"github.com/scrawlvm/scrawl/pkg/synapse"
)

// tensorArg fetches a tensor operand, failing on an empty slot. Bounds are
// checked by the register file.
func tensorArg(c *subContext, idx int) (*register.Tensor, error) {
	t, err := c.regs.GetTensor(idx)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("vm: TR%d holds no tensor", idx)
	}
	return t, nil
}

type tensorDomain struct{}

func (tensorDomain) handle(s *Session, c *subContext, in synapse.Instruction, eff *Effect) error {
	ops := in.Operands
	switch in.Op {
	case opcode.TAlloc:
		t, err := register.NewTensor(int(ops[1]), int(ops[2]))
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), t)
		eff.Trace(opcode.DomainTensor, "alloc", SeverityDebug, "TR%d = zeros(%dx%d)", ops[0], ops[1], ops[2])

	case opcode.TFree:
		if _, err := c.regs.GetTensor(int(ops[0])); err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), nil)

	case opcode.TFill:
		t, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		out := t.Clone()
		out.Fill(float64(synapse.AsFloat(ops[1])))
		eff.SetTensor(int(ops[0]), out)

	case opcode.TCopy:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), src.Clone())

	case opcode.TReshape:
		t, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		out := t.Clone()
		if err := out.Reshape(int(ops[1]), int(ops[2])); err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), out)

	case opcode.TAdd, opcode.TSub, opcode.TMul:
		// In-place arithmetic: the destination buffer is mutated directly,
		// no allocation. Staged as a deferred op after shape validation.
		dst, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		if !dst.SameShape(src) {
			return fmt.Errorf("%w: %s TR%d %dx%d vs TR%d %dx%d", register.ErrShapeMismatch,
				in.Op, ops[0], dst.Rows, dst.Cols, ops[1], src.Rows, src.Cols)
		}
		op := in.Op
		eff.Defer(func() {
			switch op {
			case opcode.TAdd:
				dst.AddInPlace(src)
			case opcode.TSub:
				dst.SubInPlace(src)
			case opcode.TMul:
				dst.MulInPlace(src)
			}
		})

	case opcode.TScale:
		dst, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		factor := float64(synapse.AsFloat(ops[1]))
		eff.Defer(func() { dst.ScaleInPlace(factor) })

	case opcode.TMatMul:
		a, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		b, err := tensorArg(c, int(ops[2]))
		if err != nil {
			return err
		}
		out, err := a.MatMul(b)
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), out)

	case opcode.TTranspose:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), src.Transpose())

	case opcode.TNorm:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		out, err := src.Norm(int(ops[2]))
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), out)

	case opcode.TCompose:
		return composeTensors(c, ops, eff)

	case opcode.TReduce:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		v, err := src.Reduce(int(ops[2]))
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), int64(v))

	case opcode.TSlice:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		out, err := src.SliceRows(int(ops[2]), int(ops[3]))
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), out)

	case opcode.TConcat:
		a, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		b, err := tensorArg(c, int(ops[2]))
		if err != nil {
			return err
		}
		out, err := a.ConcatRows(b)
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), out)

	case opcode.TArgMax:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), int64(src.ArgMax()))

	case opcode.TSoftmax:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), src.Softmax())

	case opcode.TLoad:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		i := int(ops[2])
		if i < 0 || i >= src.Len() {
			return fmt.Errorf("%w: T_LOAD element %d of %d", register.ErrShapeMismatch, i, src.Len())
		}
		eff.SetReg(int(ops[0]), int64(src.Data[i]))

	case opcode.TStore:
		dst, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		i := int(ops[1])
		if i < 0 || i >= dst.Len() {
			return fmt.Errorf("%w: T_STORE element %d of %d", register.ErrShapeMismatch, i, dst.Len())
		}
		v, err := c.regs.Get(int(ops[2]))
		if err != nil {
			return err
		}
		eff.Defer(func() { dst.Data[i] = float64(v) })

	default:
		return fmt.Errorf("%w: 0x%02X in tensor domain", opcode.ErrUnknownOpcode, byte(in.Op))
	}
	return nil
}

// Compose modes for T_COMPOSE.
const (
	ComposeDot = iota
	ComposeAdd
	ComposeHadamard
)

func composeTensors(c *subContext, ops []int64, eff *Effect) error {
	a, err := tensorArg(c, int(ops[1]))
	if err != nil {
		return err
	}
	b, err := tensorArg(c, int(ops[2]))
	if err != nil {
		return err
	}
	switch int(ops[3]) {
	case ComposeDot:
		out, err := a.MatMul(b.Transpose())
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), out)
	case ComposeAdd:
		out := a.Clone()
		if err := out.AddInPlace(b); err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), out)
	case ComposeHadamard:
		out := a.Clone()
		if err := out.MulInPlace(b); err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), out)
	default:
		return fmt.Errorf("vm: unsupported compose mode %d", ops[3])
	}
	return nil
}
