package vm

import (
	"fmt"

	"github.com/scrawlvm/scrawl/pkg/identity"
	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/synapse"
)

type stateDomain struct{}

func (stateDomain) handle(s *Session, c *subContext, in synapse.Instruction, eff *Effect) error {
	ops := in.Operands
	switch in.Op {
	case opcode.SSet:
		v, err := c.regs.Get(int(ops[1]))
		if err != nil {
			return err
		}
		eff.KVSet(ops[0], v)

	case opcode.SGet:
		v, ok := s.kv[ops[1]]
		if !ok {
			eff.Trace(opcode.DomainState, "miss", SeverityWarn, "key %d absent, reading zero", ops[1])
		}
		eff.SetReg(int(ops[0]), v)

	case opcode.SDel:
		eff.KVDelete(ops[0])

	case opcode.SHas:
		var has int64
		if _, ok := s.kv[ops[1]]; ok {
			has = 1
		}
		eff.SetReg(int(ops[0]), has)

	case opcode.SKeys:
		eff.SetReg(int(ops[0]), int64(len(s.kv)))

	case opcode.SClear:
		eff.KVClear()

	case opcode.SSnapshot:
		snap := s.Snapshot()
		slot := ops[0]
		eff.Defer(func() { s.snapshots[slot] = snap })
		eff.Trace(opcode.DomainState, "snapshot", SeverityInfo, "state captured to slot %d", slot)

	case opcode.SRestore:
		snap, ok := s.snapshots[ops[0]]
		if !ok {
			return fmt.Errorf("vm: no snapshot in slot %d", ops[0])
		}
		eff.Defer(func() { s.RestoreSnapshot(snap) })
		eff.Trace(opcode.DomainState, "restore", SeverityInfo, "state restored from slot %d", ops[0])

	case opcode.SDiff:
		snap, ok := s.snapshots[ops[1]]
		if !ok {
			return fmt.Errorf("vm: no snapshot in slot %d", ops[1])
		}
		eff.SetReg(int(ops[0]), int64(kvDiffCount(s.kv, snap.KV)))

	case opcode.SPatch:
		snap, ok := s.snapshots[ops[0]]
		if !ok {
			return fmt.Errorf("vm: no snapshot in slot %d", ops[0])
		}
		for k, v := range snap.KV {
			eff.KVSet(k, v)
		}

	case opcode.SCompress:
		b := s.baselines[int(ops[1])]
		if b == nil {
			return fmt.Errorf("vm: CR%d holds no baseline", ops[1])
		}
		snap, ok := s.snapshots[ops[2]]
		if !ok {
			return fmt.Errorf("vm: no snapshot in slot %d", ops[2])
		}
		raw, err := MarshalSnapshot(snap)
		if err != nil {
			return err
		}
		packed := identity.NewCompressor(b).Compress(raw)
		slot := ops[2]
		eff.Defer(func() { s.packed[slot] = packed })
		eff.SetReg(int(ops[0]), int64(len(packed)))
		eff.Trace(opcode.DomainState, "compress", SeverityInfo,
			"slot %d: %dB snapshot to %dB delta", slot, len(raw), len(packed))

	case opcode.SDecompress:
		b := s.baselines[int(ops[1])]
		if b == nil {
			return fmt.Errorf("vm: CR%d holds no baseline", ops[1])
		}
		packed, ok := s.packed[ops[2]]
		if !ok {
			return fmt.Errorf("vm: no compressed state in slot %d", ops[2])
		}
		raw, err := identity.NewDecompressor(b).Decompress(packed)
		if err != nil {
			return err
		}
		snap, err := UnmarshalSnapshot(raw)
		if err != nil {
			return err
		}
		slot := ops[2]
		eff.Defer(func() { s.snapshots[slot] = snap })
		eff.SetReg(int(ops[0]), int64(len(raw)))

	default:
		return fmt.Errorf("%w: 0x%02X in state domain", opcode.ErrUnknownOpcode, byte(in.Op))
	}
	return nil
}

// kvDiffCount counts keys whose value differs between two stores,
// including keys present on only one side.
func kvDiffCount(a map[int64]int64, b map[int64]int64) int {
	n := 0
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			n++
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			n++
		}
	}
	return n
}
