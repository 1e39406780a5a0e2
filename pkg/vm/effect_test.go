package vm

import (
	"errors"
	"testing"

	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/register"
)

func TestEffectApplyAtomic(t *testing.T) {
	s := NewDefaultSession()
	c := s.contexts.root()

	eff := &Effect{}
	eff.SetReg(0, 1)
	eff.SetReg(1, 2)
	eff.SetReg(500, 3) // out of range

	if err := eff.apply(s, c); !errors.Is(err, register.ErrRegisterOutOfRange) {
		t.Fatalf("apply error = %v, want ErrRegisterOutOfRange", err)
	}
	// Nothing before the bad write may have landed.
	for _, idx := range []int{0, 1} {
		if v, _ := c.regs.Get(idx); v != 0 {
			t.Errorf("R%d = %d after failed stage, want 0", idx, v)
		}
	}
}

func TestEffectApplyTensorValidation(t *testing.T) {
	s := NewDefaultSession()
	c := s.contexts.root()

	tr, _ := register.NewTensor(1, 1)
	eff := &Effect{}
	eff.SetReg(0, 7)
	eff.SetTensor(500, tr)

	if err := eff.apply(s, c); !errors.Is(err, register.ErrRegisterOutOfRange) {
		t.Fatalf("apply error = %v, want ErrRegisterOutOfRange", err)
	}
	if v, _ := c.regs.Get(0); v != 0 {
		t.Errorf("R0 = %d after failed stage, want 0", v)
	}
}

func TestEffectCommitOrder(t *testing.T) {
	s := NewDefaultSession()
	c := s.contexts.root()

	eff := &Effect{}
	eff.KVSet(1, 10)
	eff.KVSet(1, 20) // later staged op wins
	eff.KVSet(2, 5)
	eff.KVDelete(2)

	if err := eff.apply(s, c); err != nil {
		t.Fatal(err)
	}
	if s.kv[1] != 20 {
		t.Errorf("kv[1] = %d, want 20", s.kv[1])
	}
	if _, ok := s.kv[2]; ok {
		t.Error("kv[2] survived a staged delete")
	}
}

func TestEffectEventsStamped(t *testing.T) {
	s := NewDefaultSession()
	c := s.contexts.root()
	c.pc = 9

	var got []TraceEvent
	s.AddTraceSink(TraceFunc(func(e TraceEvent) { got = append(got, e) }))

	eff := &Effect{}
	eff.Trace(opcode.DomainState, "probe", SeverityInfo, "value %d", 42)
	if err := eff.apply(s, c); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 {
		t.Fatalf("sink saw %d events, want 1", len(got))
	}
	e := got[0]
	if e.PC != 9 || e.Context != 0 || e.Type != "probe" || e.Message != "value 42" {
		t.Errorf("event = %+v", e)
	}
}
