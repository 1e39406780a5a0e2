package vm

import (
	"fmt"
	"math"
	"sort"

	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/register"
	"github.com/scrawlvm/scrawl/pkg/synapse"
)

type attentionDomain struct{}

func (attentionDomain) handle(s *Session, c *subContext, in synapse.Instruction, eff *Effect) error {
	ops := in.Operands
	switch in.Op {
	case opcode.ARoute:
		q, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		k, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		v, err := tensorArg(c, int(ops[2]))
		if err != nil {
			return err
		}
		out, err := scaledDotAttention(q, k, v)
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[3]), out)
		eff.Trace(opcode.DomainAttention, "route", SeverityDebug,
			"TR%d = attend(TR%d, TR%d, TR%d)", ops[3], ops[0], ops[1], ops[2])

	case opcode.ASelf:
		src, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		out, err := scaledDotAttention(src, src, src)
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[1]), out)

	case opcode.ACross:
		q, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		kv, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		out, err := scaledDotAttention(q, kv, kv)
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[2]), out)

	case opcode.AMask:
		dst, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		mask, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		if !dst.SameShape(mask) {
			return fmt.Errorf("%w: mask %dx%d over %dx%d", register.ErrShapeMismatch,
				mask.Rows, mask.Cols, dst.Rows, dst.Cols)
		}
		eff.Defer(func() {
			for i := range dst.Data {
				if mask.Data[i] == 0 {
					dst.Data[i] = math.Inf(-1)
				}
			}
		})

	case opcode.AScore:
		q, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		k, err := tensorArg(c, int(ops[2]))
		if err != nil {
			return err
		}
		scores, err := attentionScores(q, k)
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), scores)

	case opcode.AWeight:
		scores, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), scores.Softmax())

	case opcode.AFocus:
		w, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		eff.SetReg(int(ops[0]), int64(w.ArgMax()))

	case opcode.ABroadcast:
		dst, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		row, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		if row.Rows != 1 || row.Cols != dst.Cols {
			return fmt.Errorf("%w: broadcast %dx%d into %dx%d", register.ErrShapeMismatch,
				row.Rows, row.Cols, dst.Rows, dst.Cols)
		}
		out, _ := register.NewTensor(dst.Rows, dst.Cols)
		for i := 0; i < dst.Rows; i++ {
			copy(out.Data[i*out.Cols:(i+1)*out.Cols], row.Data)
		}
		eff.SetTensor(int(ops[0]), out)

	case opcode.AGather:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		idx, err := c.regs.Get(int(ops[2]))
		if err != nil {
			return err
		}
		row, err := src.SliceRows(int(idx), int(idx)+1)
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), row)

	case opcode.AScatter:
		dst, err := tensorArg(c, int(ops[0]))
		if err != nil {
			return err
		}
		row, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		idx, err := c.regs.Get(int(ops[2]))
		if err != nil {
			return err
		}
		if row.Rows != 1 || row.Cols != dst.Cols || idx < 0 || int(idx) >= dst.Rows {
			return fmt.Errorf("%w: scatter %dx%d into row %d of %dx%d", register.ErrShapeMismatch,
				row.Rows, row.Cols, idx, dst.Rows, dst.Cols)
		}
		i := int(idx)
		eff.Defer(func() {
			copy(dst.Data[i*dst.Cols:(i+1)*dst.Cols], row.Data)
		})

	case opcode.ATopK:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		k := int(ops[2])
		if k <= 0 || k > src.Len() {
			return fmt.Errorf("%w: top-%d of %d elements", register.ErrShapeMismatch, k, src.Len())
		}
		vals := append([]float64(nil), src.Data...)
		sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
		out, _ := register.NewTensorFrom(vals[:k], 1, k)
		eff.SetTensor(int(ops[0]), out)

	case opcode.APool:
		src, err := tensorArg(c, int(ops[1]))
		if err != nil {
			return err
		}
		out, err := poolRows(src, int(ops[2]))
		if err != nil {
			return err
		}
		eff.SetTensor(int(ops[0]), out)

	default:
		return fmt.Errorf("%w: 0x%02X in attention domain", opcode.ErrUnknownOpcode, byte(in.Op))
	}
	return nil
}

// attentionScores computes q × kᵀ scaled by 1/√d, where d is the key width.
func attentionScores(q, k *register.Tensor) (*register.Tensor, error) {
	if q.Cols != k.Cols {
		return nil, fmt.Errorf("%w: query width %d vs key width %d", register.ErrShapeMismatch, q.Cols, k.Cols)
	}
	scores, err := q.MatMul(k.Transpose())
	if err != nil {
		return nil, err
	}
	scores.ScaleInPlace(1 / math.Sqrt(float64(k.Cols)))
	return scores, nil
}

// scaledDotAttention is softmax(q·kᵀ/√d) × v.
func scaledDotAttention(q, k, v *register.Tensor) (*register.Tensor, error) {
	scores, err := attentionScores(q, k)
	if err != nil {
		return nil, err
	}
	return scores.Softmax().MatMul(v)
}

// Pool modes for A_POOL.
const (
	PoolMean = iota
	PoolMax
)

// poolRows collapses the row dimension to a single 1×cols tensor.
func poolRows(src *register.Tensor, mode int) (*register.Tensor, error) {
	out, _ := register.NewTensor(1, src.Cols)
	switch mode {
	case PoolMean:
		for j := 0; j < src.Cols; j++ {
			var sum float64
			for i := 0; i < src.Rows; i++ {
				sum += src.At(i, j)
			}
			out.Data[j] = sum / float64(src.Rows)
		}
	case PoolMax:
		for j := 0; j < src.Cols; j++ {
			best := src.At(0, j)
			for i := 1; i < src.Rows; i++ {
				if v := src.At(i, j); v > best {
					best = v
				}
			}
			out.Data[j] = best
		}
	default:
		return nil, fmt.Errorf("vm: unsupported pool mode %d", mode)
	}
	return out, nil
}
