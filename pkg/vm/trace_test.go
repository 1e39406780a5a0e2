package vm

import (
	"testing"

	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/synapse"
)

func TestTraceSeqMonotonic(t *testing.T) {
	s := NewDefaultSession()
	res := mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.IDerive, 0, 0xCAFE, 4),
		synapse.New(opcode.IVerify, 0, 0),
		synapse.New(opcode.XHalt),
	})
	if len(res.Trace) == 0 {
		t.Fatal("no trace events recorded")
	}
	for i := 1; i < len(res.Trace); i++ {
		if res.Trace[i].Seq <= res.Trace[i-1].Seq {
			t.Fatalf("trace seq not increasing at %d: %d then %d",
				i, res.Trace[i-1].Seq, res.Trace[i].Seq)
		}
	}
}

func TestSinkFanOutOrder(t *testing.T) {
	s := NewDefaultSession()
	var order []int
	h1 := s.AddTraceSink(TraceFunc(func(TraceEvent) { order = append(order, 1) }))
	s.AddTraceSink(TraceFunc(func(TraceEvent) { order = append(order, 2) }))

	s.emit(TraceEvent{Type: "test"})
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("fan-out order = %v, want [1 2]", order)
	}

	order = nil
	s.RemoveTraceSink(h1)
	s.emit(TraceEvent{Type: "test"})
	if len(order) != 1 || order[0] != 2 {
		t.Errorf("fan-out after removal = %v, want [2]", order)
	}
	// Removing twice is a no-op.
	s.RemoveTraceSink(h1)
}

func TestSinkSeesFaults(t *testing.T) {
	s := NewDefaultSession()
	var faults int
	s.AddTraceSink(TraceFunc(func(e TraceEvent) {
		if e.Type == "fault" && e.Severity == SeverityError {
			faults++
		}
	}))
	s.Execute([]synapse.Instruction{
		synapse.New(opcode.XMov, 0, 200),
	})
	if faults != 1 {
		t.Errorf("sink saw %d fault events, want 1", faults)
	}
}

func TestEventString(t *testing.T) {
	e := TraceEvent{Domain: opcode.DomainConsensus, Type: "commit", Severity: SeverityInfo, Message: "proposal 1 committed"}
	if got := e.String(); got != "[INFO ] consensus.commit: proposal 1 committed" {
		t.Errorf("String() = %q", got)
	}
}
