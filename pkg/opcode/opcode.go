// Package opcode defines the SCRAWL instruction catalog: six core domains
// in the low byte range, with an open registration range for extensions.
//
// A Descriptor fixes the operand arity and operand kinds for one opcode.
// The wire encoding of an instruction is the opcode byte followed by the
// operand bytes, each sized by its kind; there are no per-operand type tags.
package opcode

import "fmt"

// Opcode identifies one operation within a domain.
// Core domains occupy fixed low ranges; 0xC0-0xEF is reserved for extensions.
type Opcode byte

// Domain groups opcodes by the capability that handles them.
type Domain uint8

const (
	DomainTensor Domain = iota
	DomainAttention
	DomainExecution
	DomainState
	DomainConsensus
	DomainIdentity
	DomainExtension
)

// String returns a human-readable name for a domain.
func (d Domain) String() string {
	switch d {
	case DomainTensor:
		return "tensor"
	case DomainAttention:
		return "attention"
	case DomainExecution:
		return "execution"
	case DomainState:
		return "state"
	case DomainConsensus:
		return "consensus"
	case DomainIdentity:
		return "identity"
	case DomainExtension:
		return "extension"
	default:
		return fmt.Sprintf("Domain(%d)", uint8(d))
	}
}

// Kind describes one operand slot of an instruction.
type Kind uint8

const (
	// KindReg is a general-purpose register index (1 byte on the wire).
	KindReg Kind = iota

	// KindTensorReg is a tensor register index (1 byte).
	KindTensorReg

	// KindContextReg is a context register index (1 byte).
	KindContextReg

	// KindImmInt is an immediate signed integer (4 bytes, big-endian).
	KindImmInt

	// KindImmFloat is an immediate IEEE-754 float32 (4 bytes, big-endian).
	KindImmFloat
)

// Width returns the encoded width of an operand of this kind, in bytes.
func (k Kind) Width() int {
	switch k {
	case KindReg, KindTensorReg, KindContextReg:
		return 1
	case KindImmInt, KindImmFloat:
		return 4
	default:
		return 0
	}
}

// String returns a human-readable name for an operand kind.
func (k Kind) String() string {
	switch k {
	case KindReg:
		return "reg"
	case KindTensorReg:
		return "treg"
	case KindContextReg:
		return "creg"
	case KindImmInt:
		return "imm"
	case KindImmFloat:
		return "fimm"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

const (
	// ========================================================================
	// Tensor domain (0x00-0x13)
	// ========================================================================

	TAlloc     Opcode = 0x00 // T_ALLOC dst, rows, cols
	TFree      Opcode = 0x01 // T_FREE dst
	TFill      Opcode = 0x02 // T_FILL dst, value
	TCopy      Opcode = 0x03 // T_COPY dst, src
	TReshape   Opcode = 0x04 // T_RESHAPE dst, rows, cols
	TAdd       Opcode = 0x05 // T_ADD dst, src (in-place)
	TSub       Opcode = 0x06 // T_SUB dst, src (in-place)
	TMul       Opcode = 0x07 // T_MUL dst, src (in-place, elementwise)
	TScale     Opcode = 0x08 // T_SCALE dst, factor (in-place)
	TMatMul    Opcode = 0x09 // T_MATMUL dst, a, b
	TTranspose Opcode = 0x0A // T_TRANSPOSE dst, src
	TNorm      Opcode = 0x0B // T_NORM dst, src, order
	TCompose   Opcode = 0x0C // T_COMPOSE dst, a, b, mode
	TReduce    Opcode = 0x0D // T_REDUCE dst(reg), src, mode
	TSlice     Opcode = 0x0E // T_SLICE dst, src, start, end (rows)
	TConcat    Opcode = 0x0F // T_CONCAT dst, a, b (rows)
	TArgMax    Opcode = 0x10 // T_ARGMAX dst(reg), src
	TSoftmax   Opcode = 0x11 // T_SOFTMAX dst, src (row-wise)
	TLoad      Opcode = 0x12 // T_LOAD dst(reg), src, index
	TStore     Opcode = 0x13 // T_STORE dst, index, src(reg)

	// ========================================================================
	// Attention domain (0x20-0x2B)
	// ========================================================================

	ARoute     Opcode = 0x20 // A_ROUTE q, k, v, out
	ASelf      Opcode = 0x21 // A_SELF src, out
	ACross     Opcode = 0x22 // A_CROSS q, kv, out
	AMask      Opcode = 0x23 // A_MASK dst, mask (in-place)
	AScore     Opcode = 0x24 // A_SCORE dst, q, k
	AWeight    Opcode = 0x25 // A_WEIGHT dst, scores
	AFocus     Opcode = 0x26 // A_FOCUS dst(reg), weights
	ABroadcast Opcode = 0x27 // A_BROADCAST dst, row
	AGather    Opcode = 0x28 // A_GATHER dst, src, index(reg)
	AScatter   Opcode = 0x29 // A_SCATTER dst, row, index(reg)
	ATopK      Opcode = 0x2A // A_TOPK dst, src, k
	APool      Opcode = 0x2B // A_POOL dst, src, mode

	// ========================================================================
	// Execution domain (0x40-0x53)
	// ========================================================================

	XNop    Opcode = 0x40 // X_NOP
	XHalt   Opcode = 0x41 // X_HALT
	XYield  Opcode = 0x42 // X_YIELD src(reg)
	XSet    Opcode = 0x43 // X_SET dst(reg), value
	XMov    Opcode = 0x44 // X_MOV dst(reg), src(reg)
	XJmp    Opcode = 0x45 // X_JMP target
	XJz     Opcode = 0x46 // X_JZ cond(reg), target
	XJnz    Opcode = 0x47 // X_JNZ cond(reg), target
	XLoop   Opcode = 0x48 // X_LOOP counter(reg), target
	XCall   Opcode = 0x49 // X_CALL target
	XRet    Opcode = 0x4A // X_RET
	XFork   Opcode = 0x4B // X_FORK dst(reg), target
	XJoin   Opcode = 0x4C // X_JOIN ctx(reg)
	XSpawn  Opcode = 0x4D // X_SPAWN dst(reg), target
	XKill   Opcode = 0x4E // X_KILL ctx(reg)
	XSleep  Opcode = 0x4F // X_SLEEP ctx(reg)
	XWake   Opcode = 0x50 // X_WAKE ctx(reg)
	XResume Opcode = 0x51 // X_RESUME
	XTrap   Opcode = 0x52 // X_TRAP code
	XAbort  Opcode = 0x53 // X_ABORT code

	// ========================================================================
	// State domain (0x60-0x6B)
	// ========================================================================

	SSet        Opcode = 0x60 // S_SET key, src(reg)
	SGet        Opcode = 0x61 // S_GET dst(reg), key
	SDel        Opcode = 0x62 // S_DEL key
	SHas        Opcode = 0x63 // S_HAS dst(reg), key
	SKeys       Opcode = 0x64 // S_KEYS dst(reg)
	SClear      Opcode = 0x65 // S_CLEAR
	SSnapshot   Opcode = 0x66 // S_SNAPSHOT slot
	SRestore    Opcode = 0x67 // S_RESTORE slot
	SDiff       Opcode = 0x68 // S_DIFF dst(reg), slot
	SPatch      Opcode = 0x69 // S_PATCH slot
	SCompress   Opcode = 0x6A // S_COMPRESS dst(reg), baseline(creg), slot
	SDecompress Opcode = 0x6B // S_DECOMPRESS dst(reg), baseline(creg), slot

	// ========================================================================
	// Consensus domain (0x80-0x8B)
	// ========================================================================

	CPropose  Opcode = 0x80 // C_PROPOSE proposal, data(reg), members
	CVote     Opcode = 0x81 // C_VOTE proposal, agent, vote
	CQuorum   Opcode = 0x82 // C_QUORUM proposal, threshold
	CCommit   Opcode = 0x83 // C_COMMIT proposal, dst(reg)
	CReject   Opcode = 0x84 // C_REJECT proposal
	CVeto     Opcode = 0x85 // C_VETO proposal, agent
	CTimeout  Opcode = 0x86 // C_TIMEOUT proposal
	CEscalate Opcode = 0x87 // C_ESCALATE proposal, delegate
	CDelegate Opcode = 0x88 // C_DELEGATE proposal, decision
	CTally    Opcode = 0x89 // C_TALLY dst(reg), proposal
	CStatus   Opcode = 0x8A // C_STATUS dst(reg), proposal
	CSync     Opcode = 0x8B // C_SYNC dst(reg), proposal

	// ========================================================================
	// Identity domain (0xA0-0xA7)
	// ========================================================================

	IDerive      Opcode = 0xA0 // I_DERIVE dst(creg), seed, depth
	IVerify      Opcode = 0xA1 // I_VERIFY dst(reg), baseline(creg)
	IFingerprint Opcode = 0xA2 // I_FINGERPRINT dst(reg), baseline(creg)
	IHandshake   Opcode = 0xA3 // I_HANDSHAKE dst(reg), baseline(creg), peer(reg)
	IGnomon      Opcode = 0xA4 // I_GNOMON dst(reg), square(reg), a(reg)
	IChain       Opcode = 0xA5 // I_CHAIN dst(reg), baseline(creg), index
	ISign        Opcode = 0xA6 // I_SIGN dst(reg), baseline(creg), src(reg)
	ICheck       Opcode = 0xA7 // I_CHECK dst(reg), baseline(creg), index
)

// Extension range boundaries. Descriptors registered at table construction
// must fall inside this range; the core ranges are immutable.
const (
	ExtensionMin Opcode = 0xC0
	ExtensionMax Opcode = 0xEF
)

// Descriptor fixes the shape of one instruction: its mnemonic, the domain
// that handles it, and the ordered operand kinds.
type Descriptor struct {
	Mnemonic string
	Domain   Domain
	Operands []Kind
}

// Arity returns the fixed operand count.
func (d Descriptor) Arity() int {
	return len(d.Operands)
}

// EncodedLen returns the total wire length of an instruction with this
// descriptor: one opcode byte plus the operand bytes.
func (d Descriptor) EncodedLen() int {
	n := 1
	for _, k := range d.Operands {
		n += k.Width()
	}
	return n
}

// coreTable maps every core opcode to its descriptor. Built once; never
// mutated after package init.
var coreTable = map[Opcode]Descriptor{
	// Tensor
	TAlloc:     {"T_ALLOC", DomainTensor, []Kind{KindTensorReg, KindImmInt, KindImmInt}},
	TFree:      {"T_FREE", DomainTensor, []Kind{KindTensorReg}},
	TFill:      {"T_FILL", DomainTensor, []Kind{KindTensorReg, KindImmFloat}},
	TCopy:      {"T_COPY", DomainTensor, []Kind{KindTensorReg, KindTensorReg}},
	TReshape:   {"T_RESHAPE", DomainTensor, []Kind{KindTensorReg, KindImmInt, KindImmInt}},
	TAdd:       {"T_ADD", DomainTensor, []Kind{KindTensorReg, KindTensorReg}},
	TSub:       {"T_SUB", DomainTensor, []Kind{KindTensorReg, KindTensorReg}},
	TMul:       {"T_MUL", DomainTensor, []Kind{KindTensorReg, KindTensorReg}},
	TScale:     {"T_SCALE", DomainTensor, []Kind{KindTensorReg, KindImmFloat}},
	TMatMul:    {"T_MATMUL", DomainTensor, []Kind{KindTensorReg, KindTensorReg, KindTensorReg}},
	TTranspose: {"T_TRANSPOSE", DomainTensor, []Kind{KindTensorReg, KindTensorReg}},
	TNorm:      {"T_NORM", DomainTensor, []Kind{KindTensorReg, KindTensorReg, KindImmInt}},
	TCompose:   {"T_COMPOSE", DomainTensor, []Kind{KindTensorReg, KindTensorReg, KindTensorReg, KindImmInt}},
	TReduce:    {"T_REDUCE", DomainTensor, []Kind{KindReg, KindTensorReg, KindImmInt}},
	TSlice:     {"T_SLICE", DomainTensor, []Kind{KindTensorReg, KindTensorReg, KindImmInt, KindImmInt}},
	TConcat:    {"T_CONCAT", DomainTensor, []Kind{KindTensorReg, KindTensorReg, KindTensorReg}},
	TArgMax:    {"T_ARGMAX", DomainTensor, []Kind{KindReg, KindTensorReg}},
	TSoftmax:   {"T_SOFTMAX", DomainTensor, []Kind{KindTensorReg, KindTensorReg}},
	TLoad:      {"T_LOAD", DomainTensor, []Kind{KindReg, KindTensorReg, KindImmInt}},
	TStore:     {"T_STORE", DomainTensor, []Kind{KindTensorReg, KindImmInt, KindReg}},

	// Attention
	ARoute:     {"A_ROUTE", DomainAttention, []Kind{KindTensorReg, KindTensorReg, KindTensorReg, KindTensorReg}},
	ASelf:      {"A_SELF", DomainAttention, []Kind{KindTensorReg, KindTensorReg}},
	ACross:     {"A_CROSS", DomainAttention, []Kind{KindTensorReg, KindTensorReg, KindTensorReg}},
	AMask:      {"A_MASK", DomainAttention, []Kind{KindTensorReg, KindTensorReg}},
	AScore:     {"A_SCORE", DomainAttention, []Kind{KindTensorReg, KindTensorReg, KindTensorReg}},
	AWeight:    {"A_WEIGHT", DomainAttention, []Kind{KindTensorReg, KindTensorReg}},
	AFocus:     {"A_FOCUS", DomainAttention, []Kind{KindReg, KindTensorReg}},
	ABroadcast: {"A_BROADCAST", DomainAttention, []Kind{KindTensorReg, KindTensorReg}},
	AGather:    {"A_GATHER", DomainAttention, []Kind{KindTensorReg, KindTensorReg, KindReg}},
	AScatter:   {"A_SCATTER", DomainAttention, []Kind{KindTensorReg, KindTensorReg, KindReg}},
	ATopK:      {"A_TOPK", DomainAttention, []Kind{KindTensorReg, KindTensorReg, KindImmInt}},
	APool:      {"A_POOL", DomainAttention, []Kind{KindTensorReg, KindTensorReg, KindImmInt}},

	// Execution
	XNop:    {"X_NOP", DomainExecution, nil},
	XHalt:   {"X_HALT", DomainExecution, nil},
	XYield:  {"X_YIELD", DomainExecution, []Kind{KindReg}},
	XSet:    {"X_SET", DomainExecution, []Kind{KindReg, KindImmInt}},
	XMov:    {"X_MOV", DomainExecution, []Kind{KindReg, KindReg}},
	XJmp:    {"X_JMP", DomainExecution, []Kind{KindImmInt}},
	XJz:     {"X_JZ", DomainExecution, []Kind{KindReg, KindImmInt}},
	XJnz:    {"X_JNZ", DomainExecution, []Kind{KindReg, KindImmInt}},
	XLoop:   {"X_LOOP", DomainExecution, []Kind{KindReg, KindImmInt}},
	XCall:   {"X_CALL", DomainExecution, []Kind{KindImmInt}},
	XRet:    {"X_RET", DomainExecution, nil},
	XFork:   {"X_FORK", DomainExecution, []Kind{KindReg, KindImmInt}},
	XJoin:   {"X_JOIN", DomainExecution, []Kind{KindReg}},
	XSpawn:  {"X_SPAWN", DomainExecution, []Kind{KindReg, KindImmInt}},
	XKill:   {"X_KILL", DomainExecution, []Kind{KindReg}},
	XSleep:  {"X_SLEEP", DomainExecution, []Kind{KindReg}},
	XWake:   {"X_WAKE", DomainExecution, []Kind{KindReg}},
	XResume: {"X_RESUME", DomainExecution, nil},
	XTrap:   {"X_TRAP", DomainExecution, []Kind{KindImmInt}},
	XAbort:  {"X_ABORT", DomainExecution, []Kind{KindImmInt}},

	// State
	SSet:        {"S_SET", DomainState, []Kind{KindImmInt, KindReg}},
	SGet:        {"S_GET", DomainState, []Kind{KindReg, KindImmInt}},
	SDel:        {"S_DEL", DomainState, []Kind{KindImmInt}},
	SHas:        {"S_HAS", DomainState, []Kind{KindReg, KindImmInt}},
	SKeys:       {"S_KEYS", DomainState, []Kind{KindReg}},
	SClear:      {"S_CLEAR", DomainState, nil},
	SSnapshot:   {"S_SNAPSHOT", DomainState, []Kind{KindImmInt}},
	SRestore:    {"S_RESTORE", DomainState, []Kind{KindImmInt}},
	SDiff:       {"S_DIFF", DomainState, []Kind{KindReg, KindImmInt}},
	SPatch:      {"S_PATCH", DomainState, []Kind{KindImmInt}},
	SCompress:   {"S_COMPRESS", DomainState, []Kind{KindReg, KindContextReg, KindImmInt}},
	SDecompress: {"S_DECOMPRESS", DomainState, []Kind{KindReg, KindContextReg, KindImmInt}},

	// Consensus
	CPropose:  {"C_PROPOSE", DomainConsensus, []Kind{KindImmInt, KindReg, KindImmInt}},
	CVote:     {"C_VOTE", DomainConsensus, []Kind{KindImmInt, KindImmInt, KindImmInt}},
	CQuorum:   {"C_QUORUM", DomainConsensus, []Kind{KindImmInt, KindImmFloat}},
	CCommit:   {"C_COMMIT", DomainConsensus, []Kind{KindImmInt, KindReg}},
	CReject:   {"C_REJECT", DomainConsensus, []Kind{KindImmInt}},
	CVeto:     {"C_VETO", DomainConsensus, []Kind{KindImmInt, KindImmInt}},
	CTimeout:  {"C_TIMEOUT", DomainConsensus, []Kind{KindImmInt}},
	CEscalate: {"C_ESCALATE", DomainConsensus, []Kind{KindImmInt, KindImmInt}},
	CDelegate: {"C_DELEGATE", DomainConsensus, []Kind{KindImmInt, KindImmInt}},
	CTally:    {"C_TALLY", DomainConsensus, []Kind{KindReg, KindImmInt}},
	CStatus:   {"C_STATUS", DomainConsensus, []Kind{KindReg, KindImmInt}},
	CSync:     {"C_SYNC", DomainConsensus, []Kind{KindReg, KindImmInt}},

	// Identity
	IDerive:      {"I_DERIVE", DomainIdentity, []Kind{KindContextReg, KindImmInt, KindImmInt}},
	IVerify:      {"I_VERIFY", DomainIdentity, []Kind{KindReg, KindContextReg}},
	IFingerprint: {"I_FINGERPRINT", DomainIdentity, []Kind{KindReg, KindContextReg}},
	IHandshake:   {"I_HANDSHAKE", DomainIdentity, []Kind{KindReg, KindContextReg, KindReg}},
	IGnomon:      {"I_GNOMON", DomainIdentity, []Kind{KindReg, KindReg, KindReg}},
	IChain:       {"I_CHAIN", DomainIdentity, []Kind{KindReg, KindContextReg, KindImmInt}},
	ISign:        {"I_SIGN", DomainIdentity, []Kind{KindReg, KindContextReg, KindReg}},
	ICheck:       {"I_CHECK", DomainIdentity, []Kind{KindReg, KindContextReg, KindImmInt}},
}

// String returns the mnemonic of a core opcode, or a hex placeholder for
// opcodes outside the core table.
func (op Opcode) String() string {
	if d, ok := coreTable[op]; ok {
		return d.Mnemonic
	}
	return fmt.Sprintf("OP(0x%02X)", byte(op))
}

// IsExtension reports whether op falls in the open registration range.
func (op Opcode) IsExtension() bool {
	return op >= ExtensionMin && op <= ExtensionMax
}

// IsControlFlow reports whether op may redirect the program counter.
func (op Opcode) IsControlFlow() bool {
	switch op {
	case XJmp, XJz, XJnz, XLoop, XCall, XRet, XFork, XSpawn:
		return true
	}
	return false
}

// CoreCount returns the number of core operations.
func CoreCount() int {
	return len(coreTable)
}

// CoreOpcodes returns all core opcodes. Useful for exhaustive tests.
func CoreOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(coreTable))
	for op := range coreTable {
		ops = append(ops, op)
	}
	return ops
}
