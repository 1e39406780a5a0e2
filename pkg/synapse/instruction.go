// Package synapse implements the SCRAWL binary wire format: typed
// instructions, their compact payload serialization, and the checksummed
// frame envelope that carries an instruction stream between agents.
//
// The codec produces and consumes byte buffers only; transport is someone
// else's problem.
package synapse

import (
	"fmt"
	"math"
	"strings"

	"github.com/scrawlvm/scrawl/pkg/opcode"
)

// Instruction is one opcode with its ordered operands. Operand count and
// meaning are fixed by the opcode's descriptor.
//
// Operands are stored uniformly as int64: register indices and integer
// immediates directly, float immediates as their float32 bit pattern
// (see F and AsFloat). This keeps instructions comparable and makes the
// wire round trip bit-exact.
type Instruction struct {
	Op       opcode.Opcode
	Operands []int64
}

// New builds an instruction. Arity is validated at encode or dispatch time,
// not here.
func New(op opcode.Opcode, operands ...int64) Instruction {
	return Instruction{Op: op, Operands: operands}
}

// F packs a float32 immediate into an operand slot.
func F(f float32) int64 {
	return int64(math.Float32bits(f))
}

// AsFloat unpacks a float32 immediate operand.
func AsFloat(v int64) float32 {
	return math.Float32frombits(uint32(v))
}

// Equal reports whether two instructions are identical.
func (in Instruction) Equal(o Instruction) bool {
	if in.Op != o.Op || len(in.Operands) != len(o.Operands) {
		return false
	}
	for i := range in.Operands {
		if in.Operands[i] != o.Operands[i] {
			return false
		}
	}
	return true
}

// String renders the instruction with its mnemonic, for traces and errors.
func (in Instruction) String() string {
	if len(in.Operands) == 0 {
		return in.Op.String()
	}
	parts := make([]string, len(in.Operands))
	for i, v := range in.Operands {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf("%s %s", in.Op, strings.Join(parts, ", "))
}
