package vm

import (
	"fmt"

	"github.com/scrawlvm/scrawl/pkg/identity"
	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/register"
)

// ctlKind is the control-flow outcome of one instruction.
type ctlKind int

const (
	ctlNone ctlKind = iota
	ctlHalt
	ctlAbort
	ctlTrap
	ctlYield
	ctlJump
	ctlCall
	ctlRet
	ctlFork
	ctlSpawn
	ctlJoin
	ctlKill
	ctlSleep
	ctlWake
)

type control struct {
	kind   ctlKind
	target int   // jump/call/fork/spawn program target
	reg    int   // destination register for fork/spawn child id
	id     int   // context id for join/kill/sleep/wake
	code   int64 // trap/abort code, yield value
}

type scalarWrite struct {
	context bool
	idx     int
	val     int64
}

type tensorWrite struct {
	idx int
	t   *register.Tensor
}

type kvOp struct {
	key   int64
	val   int64
	del   bool
	clear bool
}

type baselineWrite struct {
	creg int
	b    *identity.Baseline
}

// Effect is the staged outcome of one instruction. Handlers record every
// mutation here; the engine applies the whole stage only after the handler
// returns in time, so a timed-out or failed instruction leaves no partial
// multi-register write behind.
type Effect struct {
	scalars   []scalarWrite
	tensors   []tensorWrite
	kv        []kvOp
	baselines []baselineWrite
	deferred  []func()
	events    []TraceEvent
	ctl       control
}

// SetReg stages a general-purpose register write.
func (e *Effect) SetReg(idx int, v int64) {
	e.scalars = append(e.scalars, scalarWrite{idx: idx, val: v})
}

// SetContextReg stages a context register write.
func (e *Effect) SetContextReg(idx int, v int64) {
	e.scalars = append(e.scalars, scalarWrite{context: true, idx: idx, val: v})
}

// SetTensor stages a tensor register write. nil clears the slot.
func (e *Effect) SetTensor(idx int, t *register.Tensor) {
	e.tensors = append(e.tensors, tensorWrite{idx: idx, t: t})
}

// KVSet stages a key/value store write.
func (e *Effect) KVSet(key, val int64) {
	e.kv = append(e.kv, kvOp{key: key, val: val})
}

// KVDelete stages a key removal.
func (e *Effect) KVDelete(key int64) {
	e.kv = append(e.kv, kvOp{key: key, del: true})
}

// KVClear stages a full store wipe.
func (e *Effect) KVClear() {
	e.kv = append(e.kv, kvOp{clear: true})
}

// SetBaseline stages binding a baseline to a context register slot.
func (e *Effect) SetBaseline(creg int, b *identity.Baseline) {
	e.baselines = append(e.baselines, baselineWrite{creg: creg, b: b})
}

// Defer stages an arbitrary validated mutation. The closure must not fail:
// all validation belongs in the handler before staging.
func (e *Effect) Defer(fn func()) {
	e.deferred = append(e.deferred, fn)
}

// Trace stages a trace event. Events are emitted after the stage commits.
func (e *Effect) Trace(domain opcode.Domain, typ string, sev Severity, format string, args ...any) {
	e.events = append(e.events, TraceEvent{
		Domain:   domain,
		Type:     typ,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
	})
}

// apply commits the stage against a context's register window and the
// session stores, then emits staged events stamped with pc and context.
// Every index is validated before the first write so a bad stage mutates
// nothing.
func (e *Effect) apply(s *Session, c *subContext) error {
	for _, w := range e.scalars {
		var err error
		if w.context {
			_, err = c.regs.GetContext(w.idx)
		} else {
			_, err = c.regs.Get(w.idx)
		}
		if err != nil {
			return err
		}
	}
	for _, w := range e.tensors {
		if _, err := c.regs.GetTensor(w.idx); err != nil {
			return err
		}
	}

	for _, w := range e.scalars {
		if w.context {
			c.regs.SetContext(w.idx, w.val)
		} else {
			c.regs.Set(w.idx, w.val)
		}
	}
	for _, w := range e.tensors {
		c.regs.SetTensor(w.idx, w.t)
	}
	for _, op := range e.kv {
		switch {
		case op.clear:
			s.kv = make(map[int64]int64)
		case op.del:
			delete(s.kv, op.key)
		default:
			s.kv[op.key] = op.val
		}
	}
	for _, w := range e.baselines {
		s.baselines[w.creg] = w.b
	}
	for _, fn := range e.deferred {
		fn()
	}
	for _, ev := range e.events {
		ev.PC = c.pc
		ev.Context = c.id
		s.emit(ev)
	}
	return nil
}
