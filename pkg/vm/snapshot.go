package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/scrawlvm/scrawl/pkg/identity"
	"github.com/scrawlvm/scrawl/pkg/register"
)

// cborEncMode uses canonical encoding so identical session state always
// marshals to identical bytes, which the delta codec relies on.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// TensorSnapshot is the serialized form of one tensor register.
type TensorSnapshot struct {
	Rows int       `cbor:"1,keyasint"`
	Cols int       `cbor:"2,keyasint"`
	Data []float64 `cbor:"3,keyasint"`
}

// BaselineRef records how to re-derive a baseline: baselines are pure
// functions of (seed, depth), so snapshots carry the parameters, not the
// chain.
type BaselineRef struct {
	Seed  uint32 `cbor:"1,keyasint"`
	Depth int    `cbor:"2,keyasint"`
}

// Snapshot captures the root register state, key/value store and baseline
// bindings of a session at one point in time.
type Snapshot struct {
	General   []int64                `cbor:"1,keyasint"`
	Context   []int64                `cbor:"2,keyasint"`
	Tensors   map[int]TensorSnapshot `cbor:"3,keyasint,omitempty"`
	KV        map[int64]int64        `cbor:"4,keyasint,omitempty"`
	Baselines map[int]BaselineRef    `cbor:"5,keyasint,omitempty"`
}

// Snapshot captures the current session state.
func (s *Session) Snapshot() *Snapshot {
	regs := s.Registers()
	snap := &Snapshot{
		General: make([]int64, regs.GeneralCount()),
		Context: make([]int64, regs.ContextCount()),
	}
	for i := range snap.General {
		snap.General[i], _ = regs.Get(i)
	}
	for i := range snap.Context {
		snap.Context[i], _ = regs.GetContext(i)
	}
	for i := 0; i < regs.TensorCount(); i++ {
		t, _ := regs.GetTensor(i)
		if t == nil {
			continue
		}
		if snap.Tensors == nil {
			snap.Tensors = make(map[int]TensorSnapshot)
		}
		data := make([]float64, len(t.Data))
		copy(data, t.Data)
		snap.Tensors[i] = TensorSnapshot{Rows: t.Rows, Cols: t.Cols, Data: data}
	}
	if len(s.kv) > 0 {
		snap.KV = make(map[int64]int64, len(s.kv))
		for k, v := range s.kv {
			snap.KV[k] = v
		}
	}
	if len(s.baselines) > 0 {
		snap.Baselines = make(map[int]BaselineRef, len(s.baselines))
		for creg, b := range s.baselines {
			snap.Baselines[creg] = BaselineRef{Seed: b.Seed(), Depth: b.Depth()}
		}
	}
	return snap
}

// RestoreSnapshot overwrites session state from a snapshot. Baselines are
// re-derived from their recorded parameters.
func (s *Session) RestoreSnapshot(snap *Snapshot) error {
	regs := s.Registers()
	for i, v := range snap.General {
		if err := regs.Set(i, v); err != nil {
			return err
		}
	}
	for i, v := range snap.Context {
		if err := regs.SetContext(i, v); err != nil {
			return err
		}
	}
	for i := 0; i < regs.TensorCount(); i++ {
		ts, ok := snap.Tensors[i]
		if !ok {
			regs.SetTensor(i, nil)
			continue
		}
		data := make([]float64, len(ts.Data))
		copy(data, ts.Data)
		t, err := register.NewTensorFrom(data, ts.Rows, ts.Cols)
		if err != nil {
			return err
		}
		regs.SetTensor(i, t)
	}
	s.kv = make(map[int64]int64, len(snap.KV))
	for k, v := range snap.KV {
		s.kv[k] = v
	}
	s.baselines = make(map[int]*identity.Baseline, len(snap.Baselines))
	for creg, ref := range snap.Baselines {
		b, err := identity.NewBaseline(ref.Seed, ref.Depth)
		if err != nil {
			return err
		}
		s.baselines[creg] = b
	}
	return nil
}

// MarshalSnapshot serializes a snapshot to canonical CBOR bytes.
func MarshalSnapshot(snap *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(snap)
}

// UnmarshalSnapshot deserializes a snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
