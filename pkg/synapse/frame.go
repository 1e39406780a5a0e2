package synapse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/scrawlvm/scrawl/pkg/opcode"
)

// FrameVersion is the current wire format version. Decoding rejects frames
// newer than this.
const FrameVersion uint8 = 1

// FrameMagic opens every SYNAPSE frame.
var FrameMagic = []byte{'S', 'Y', 'N', 'A'}

// headerLen is magic(4) + version(1) + flags(1) + seq(4) + payload len(4).
const headerLen = 14

// checksumLen is the CRC-32 trailer.
const checksumLen = 4

var (
	// ErrDecode covers structurally malformed frames and instruction
	// payloads: bad magic, truncated headers, truncated operands.
	ErrDecode = errors.New("synapse: malformed frame")

	// ErrCorruptFrame is returned when the recomputed checksum disagrees
	// with the trailer.
	ErrCorruptFrame = errors.New("synapse: checksum mismatch")

	// ErrUnsupportedVersion is returned for frames newer than FrameVersion.
	ErrUnsupportedVersion = errors.New("synapse: unsupported frame version")
)

// Header carries the frame metadata surfaced to the caller at decode time.
// The frame itself is transient: built at encode, validated and discarded
// at decode.
type Header struct {
	Version uint8
	Flags   uint8
	Seq     uint32
}

// EncodeInstructions serializes an instruction list to the compact payload
// form: opcode byte, then operand bytes sized per the descriptor. Arity and
// register ranges are validated against the table.
func EncodeInstructions(instrs []Instruction, table *opcode.Table) ([]byte, error) {
	size := 0
	descs := make([]opcode.Descriptor, len(instrs))
	for i, in := range instrs {
		d, err := table.Lookup(in.Op)
		if err != nil {
			return nil, err
		}
		if len(in.Operands) != d.Arity() {
			return nil, fmt.Errorf("%w: %s expects %d operands, got %d",
				ErrDecode, d.Mnemonic, d.Arity(), len(in.Operands))
		}
		descs[i] = d
		size += d.EncodedLen()
	}

	buf := make([]byte, 0, size)
	for i, in := range instrs {
		buf = append(buf, byte(in.Op))
		for j, k := range descs[i].Operands {
			v := in.Operands[j]
			switch k {
			case opcode.KindReg, opcode.KindTensorReg, opcode.KindContextReg:
				if v < 0 || v > 0xFF {
					return nil, fmt.Errorf("%w: %s operand %d: register index %d does not fit one byte",
						ErrDecode, descs[i].Mnemonic, j, v)
				}
				buf = append(buf, byte(v))
			case opcode.KindImmInt:
				if v < math32Min || v > math32Max {
					return nil, fmt.Errorf("%w: %s operand %d: immediate %d does not fit int32",
						ErrDecode, descs[i].Mnemonic, j, v)
				}
				buf = binary.BigEndian.AppendUint32(buf, uint32(int32(v)))
			case opcode.KindImmFloat:
				if v < 0 || v > math.MaxUint32 {
					return nil, fmt.Errorf("%w: %s operand %d: float bits %d do not fit uint32",
						ErrDecode, descs[i].Mnemonic, j, v)
				}
				buf = binary.BigEndian.AppendUint32(buf, uint32(v))
			}
		}
	}
	return buf, nil
}

const (
	math32Min = -1 << 31
	math32Max = 1<<31 - 1
)

// DecodeInstructions parses a payload back into an instruction list.
func DecodeInstructions(payload []byte, table *opcode.Table) ([]Instruction, error) {
	var instrs []Instruction
	pos := 0
	for pos < len(payload) {
		op := opcode.Opcode(payload[pos])
		pos++
		d, err := table.Lookup(op)
		if err != nil {
			return nil, fmt.Errorf("%w: offset %d: %v", ErrDecode, pos-1, err)
		}
		operands := make([]int64, d.Arity())
		for j, k := range d.Operands {
			w := k.Width()
			if pos+w > len(payload) {
				return nil, fmt.Errorf("%w: %s truncated at operand %d (offset %d)",
					ErrDecode, d.Mnemonic, j, pos)
			}
			switch k {
			case opcode.KindReg, opcode.KindTensorReg, opcode.KindContextReg:
				operands[j] = int64(payload[pos])
			case opcode.KindImmInt:
				operands[j] = int64(int32(binary.BigEndian.Uint32(payload[pos:])))
			case opcode.KindImmFloat:
				operands[j] = int64(binary.BigEndian.Uint32(payload[pos:]))
			}
			pos += w
		}
		instrs = append(instrs, Instruction{Op: op, Operands: operands})
	}
	return instrs, nil
}

// EncodeFrame frames an instruction list for transport:
//
//	magic(4) version(1) flags(1) seq(4 BE) payload_len(4 BE) payload crc32(4 BE)
//
// The CRC-32 (IEEE) covers header and payload. Encoding is deterministic:
// the same instructions and header fields always produce identical bytes.
func EncodeFrame(instrs []Instruction, table *opcode.Table, flags uint8, seq uint32) ([]byte, error) {
	payload, err := EncodeInstructions(instrs, table)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, headerLen+len(payload)+checksumLen)
	buf = append(buf, FrameMagic...)
	buf = append(buf, FrameVersion, flags)
	buf = binary.BigEndian.AppendUint32(buf, seq)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf, nil
}

// DecodeFrame validates and parses a frame. Magic, version and checksum are
// checked before any payload byte is interpreted; a damaged frame is never
// partially honored.
func DecodeFrame(data []byte, table *opcode.Table) ([]Instruction, Header, error) {
	var h Header
	if len(data) < headerLen+checksumLen {
		return nil, h, fmt.Errorf("%w: %d bytes is shorter than the minimal frame", ErrDecode, len(data))
	}
	if string(data[0:4]) != string(FrameMagic) {
		return nil, h, fmt.Errorf("%w: bad magic %q", ErrDecode, data[0:4])
	}
	h.Version = data[4]
	h.Flags = data[5]
	h.Seq = binary.BigEndian.Uint32(data[6:10])
	if h.Version > FrameVersion {
		return nil, h, fmt.Errorf("%w: version %d, supported up to %d", ErrUnsupportedVersion, h.Version, FrameVersion)
	}

	payloadLen := binary.BigEndian.Uint32(data[10:14])
	if int(payloadLen) != len(data)-headerLen-checksumLen {
		return nil, h, fmt.Errorf("%w: payload length %d disagrees with frame size %d",
			ErrDecode, payloadLen, len(data))
	}

	body := data[:headerLen+int(payloadLen)]
	declared := binary.BigEndian.Uint32(data[len(data)-checksumLen:])
	if computed := crc32.ChecksumIEEE(body); computed != declared {
		return nil, h, fmt.Errorf("%w: computed %08X, frame declares %08X", ErrCorruptFrame, computed, declared)
	}

	instrs, err := DecodeInstructions(body[headerLen:], table)
	if err != nil {
		return nil, h, err
	}
	return instrs, h, nil
}
