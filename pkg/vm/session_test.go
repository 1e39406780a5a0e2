package vm

import (
	"errors"
	"testing"
	"time"

	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/register"
	"github.com/scrawlvm/scrawl/pkg/synapse"
)

func mustRun(t *testing.T, s *Session, prog []synapse.Instruction) *Result {
	t.Helper()
	res, err := s.Execute(prog)
	if err != nil {
		t.Fatalf("Execute failed at pc=%d: %v", res.FailedPC, err)
	}
	return res
}

func reg(t *testing.T, s *Session, idx int) int64 {
	t.Helper()
	v, err := s.Registers().Get(idx)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestHaltAndYield(t *testing.T) {
	s := NewDefaultSession()
	res := mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XSet, 0, 1),
		synapse.New(opcode.XYield, 0),
		synapse.New(opcode.XSet, 0, 2),
		synapse.New(opcode.XYield, 0),
		synapse.New(opcode.XHalt),
	})

	if s.State() != StateHalted {
		t.Errorf("state = %s, want halted", s.State())
	}
	if res.Executed != 5 {
		t.Errorf("Executed = %d, want 5", res.Executed)
	}
	if len(res.Yielded) != 2 || res.Yielded[0] != 1 || res.Yielded[1] != 2 {
		t.Errorf("Yielded = %v, want [1 2]", res.Yielded)
	}
}

func TestRunOffEndReturnsToIdle(t *testing.T) {
	s := NewDefaultSession()
	mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XSet, 0, 5),
	})
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
	// An idle session accepts the next batch; registers persist between
	// batches.
	mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XMov, 1, 0),
		synapse.New(opcode.XHalt),
	})
	if got := reg(t, s, 1); got != 5 {
		t.Errorf("R1 = %d, want 5", got)
	}
}

func TestExecuteOnTerminalSession(t *testing.T) {
	s := NewDefaultSession()
	mustRun(t, s, []synapse.Instruction{synapse.New(opcode.XHalt)})
	if !s.State().Terminal() {
		t.Fatalf("state = %s, want terminal", s.State())
	}
	if _, err := s.Execute([]synapse.Instruction{synapse.New(opcode.XNop)}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Execute on halted session error = %v, want ErrInvalidTransition", err)
	}
}

func TestConditionalJumps(t *testing.T) {
	s := NewDefaultSession()
	mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XSet, 0, 0),
		synapse.New(opcode.XJz, 0, 4), // taken: R0 == 0
		synapse.New(opcode.XSet, 1, 1),
		synapse.New(opcode.XHalt),
		synapse.New(opcode.XSet, 1, 2),
		synapse.New(opcode.XJnz, 1, 7), // taken: R1 != 0
		synapse.New(opcode.XSet, 1, 3),
		synapse.New(opcode.XHalt),
	})
	if got := reg(t, s, 1); got != 2 {
		t.Errorf("R1 = %d, want 2", got)
	}
}

func TestLoopCountsDown(t *testing.T) {
	s := NewDefaultSession()
	res := mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XSet, 0, 3),
		synapse.New(opcode.XYield, 0),
		synapse.New(opcode.XLoop, 0, 1),
		synapse.New(opcode.XHalt),
	})
	// First pass yields the initial counter, each loop iteration yields the
	// decremented value until it hits zero.
	want := []int64{3, 2, 1}
	if len(res.Yielded) != len(want) {
		t.Fatalf("Yielded = %v, want %v", res.Yielded, want)
	}
	for i, v := range want {
		if res.Yielded[i] != v {
			t.Errorf("Yielded[%d] = %d, want %d", i, res.Yielded[i], v)
		}
	}
}

func TestCallRet(t *testing.T) {
	s := NewDefaultSession()
	res := mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XCall, 3),
		synapse.New(opcode.XYield, 0),
		synapse.New(opcode.XHalt),
		synapse.New(opcode.XSet, 0, 9),
		synapse.New(opcode.XRet),
	})
	if len(res.Yielded) != 1 || res.Yielded[0] != 9 {
		t.Errorf("Yielded = %v, want [9]", res.Yielded)
	}
}

func TestRetAtTopLevelCompletes(t *testing.T) {
	s := NewDefaultSession()
	mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XSet, 0, 4),
		synapse.New(opcode.XRet),
		synapse.New(opcode.XSet, 0, 8), // never reached
	})
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
	if got := reg(t, s, 0); got != 4 {
		t.Errorf("R0 = %d, want 4", got)
	}
}

func TestJumpOutOfRange(t *testing.T) {
	s := NewDefaultSession()
	res, err := s.Execute([]synapse.Instruction{
		synapse.New(opcode.XJmp, 99),
	})
	if !errors.Is(err, synapse.ErrDecode) {
		t.Errorf("error = %v, want ErrDecode", err)
	}
	if res.FailedPC != 0 {
		t.Errorf("FailedPC = %d, want 0", res.FailedPC)
	}
}

func TestBatchAbortKeepsPriorMutations(t *testing.T) {
	s := NewDefaultSession()
	res := mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XSet, 0, 7),
		synapse.New(opcode.SSet, 1, 0),
		synapse.New(opcode.XAbort, 3),
		synapse.New(opcode.XSet, 0, 9), // never reached
	})
	if s.State() != StateAborted {
		t.Fatalf("state = %s, want aborted", s.State())
	}
	if res.Executed != 3 {
		t.Errorf("Executed = %d, want 3", res.Executed)
	}
	// Mutations committed before the abort stay committed.
	if got := reg(t, s, 0); got != 7 {
		t.Errorf("R0 = %d, want 7", got)
	}
	if v, ok := s.Snapshot().KV[1]; !ok || v != 7 {
		t.Errorf("kv[1] = %d, %v, want 7, true", v, ok)
	}
}

func TestFailedInstructionAbortsBatch(t *testing.T) {
	s := NewDefaultSession()
	res, err := s.Execute([]synapse.Instruction{
		synapse.New(opcode.XSet, 0, 1),
		synapse.New(opcode.XMov, 0, 200), // R200 is out of range
		synapse.New(opcode.XSet, 0, 2),
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if res.FailedPC != 1 {
		t.Errorf("FailedPC = %d, want 1", res.FailedPC)
	}
	if got := reg(t, s, 0); got != 1 {
		t.Errorf("R0 = %d, want 1 (pc 0 committed, pc 2 never ran)", got)
	}
}

func TestArityMismatch(t *testing.T) {
	s := NewDefaultSession()
	_, err := s.Execute([]synapse.Instruction{
		synapse.New(opcode.XSet, 1),
	})
	if !errors.Is(err, synapse.ErrDecode) {
		t.Errorf("error = %v, want ErrDecode", err)
	}
}

func TestUnknownOpcodeFaults(t *testing.T) {
	s := NewDefaultSession()
	_, err := s.Execute([]synapse.Instruction{
		synapse.New(0xFE),
	})
	if !errors.Is(err, opcode.ErrUnknownOpcode) {
		t.Errorf("error = %v, want ErrUnknownOpcode", err)
	}
}

func TestVoluntaryTrapAndResume(t *testing.T) {
	s := NewDefaultSession()
	mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XSet, 0, 1),
		synapse.New(opcode.XTrap, 42),
		synapse.New(opcode.XSet, 0, 2),
		synapse.New(opcode.XHalt),
	})
	if s.State() != StateTrapped {
		t.Fatalf("state = %s, want trapped", s.State())
	}
	if got := reg(t, s, 0); got != 1 {
		t.Errorf("R0 at trap = %d, want 1", got)
	}

	// A trapped session rejects anything but a resume batch.
	if _, err := s.Execute([]synapse.Instruction{synapse.New(opcode.XNop)}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("non-resume batch error = %v, want ErrInvalidTransition", err)
	}

	mustRun(t, s, []synapse.Instruction{synapse.New(opcode.XResume)})
	if s.State() != StateHalted {
		t.Errorf("state after resume = %s, want halted", s.State())
	}
	if got := reg(t, s, 0); got != 2 {
		t.Errorf("R0 after resume = %d, want 2", got)
	}
}

func TestStepBudget(t *testing.T) {
	s, err := NewSession(Config{MaxSteps: 64})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Execute([]synapse.Instruction{
		synapse.New(opcode.XJmp, 0),
	})
	if !errors.Is(err, ErrStepBudget) {
		t.Errorf("error = %v, want ErrStepBudget", err)
	}
	if s.State() != StateTrapped {
		t.Errorf("state = %s, want trapped", s.State())
	}
}

func TestInstructionTimeout(t *testing.T) {
	slow := ExtensionHandler{
		Ext: opcode.Extension{Op: 0xC0, Desc: opcode.Descriptor{Mnemonic: "E_SLOW"}},
		Handle: func(s *Session, in synapse.Instruction, eff *Effect) error {
			time.Sleep(200 * time.Millisecond)
			eff.SetReg(0, 111)
			return nil
		},
	}
	s, err := NewSession(Config{Timeout: 10 * time.Millisecond, Extensions: []ExtensionHandler{slow}})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Execute([]synapse.Instruction{
		synapse.New(0xC0),
		synapse.New(opcode.XSet, 1, 5),
		synapse.New(opcode.XHalt),
	})
	if !errors.Is(err, ErrInstructionTimeout) {
		t.Fatalf("error = %v, want ErrInstructionTimeout", err)
	}
	if s.State() != StateTrapped {
		t.Fatalf("state = %s, want trapped", s.State())
	}
	// The abandoned handler's stage never commits.
	if got := reg(t, s, 0); got != 0 {
		t.Errorf("R0 = %d, want 0 (timed-out stage discarded)", got)
	}

	// Resume skips past the slow instruction and completes the batch.
	mustRun(t, s, []synapse.Instruction{synapse.New(opcode.XResume)})
	if s.State() != StateHalted {
		t.Errorf("state after resume = %s, want halted", s.State())
	}
	if got := reg(t, s, 1); got != 5 {
		t.Errorf("R1 = %d, want 5", got)
	}
}

func TestExtensionDispatch(t *testing.T) {
	double := ExtensionHandler{
		Ext: opcode.Extension{Op: 0xC2, Desc: opcode.Descriptor{
			Mnemonic: "E_DOUBLE",
			Operands: []opcode.Kind{opcode.KindReg, opcode.KindReg},
		}},
		Handle: func(s *Session, in synapse.Instruction, eff *Effect) error {
			v, err := s.Registers().Get(int(in.Operands[1]))
			if err != nil {
				return err
			}
			eff.SetReg(int(in.Operands[0]), 2*v)
			return nil
		},
	}
	s, err := NewSession(Config{Extensions: []ExtensionHandler{double}})
	if err != nil {
		t.Fatal(err)
	}
	mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XSet, 1, 21),
		synapse.New(0xC2, 0, 1),
		synapse.New(opcode.XHalt),
	})
	if got := reg(t, s, 0); got != 42 {
		t.Errorf("R0 = %d, want 42", got)
	}
}

func TestExecuteFrame(t *testing.T) {
	s := NewDefaultSession()
	frame, err := synapse.EncodeFrame([]synapse.Instruction{
		synapse.New(opcode.XSet, 0, 13),
		synapse.New(opcode.XYield, 0),
		synapse.New(opcode.XHalt),
	}, s.Table(), 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.ExecuteFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Yielded) != 1 || res.Yielded[0] != 13 {
		t.Errorf("Yielded = %v, want [13]", res.Yielded)
	}
}

func TestCrossSessionDeterminism(t *testing.T) {
	prog := []synapse.Instruction{
		synapse.New(opcode.XSet, 0, 3),
		synapse.New(opcode.TAlloc, 0, 2, 2),
		synapse.New(opcode.TFill, 0, synapse.F(1.5)),
		synapse.New(opcode.TReduce, 1, 0, int64(register.ReduceSum)),
		synapse.New(opcode.IDerive, 0, 0xCAFE, 8),
		synapse.New(opcode.IFingerprint, 2, 0),
		synapse.New(opcode.XYield, 1),
		synapse.New(opcode.XLoop, 0, 6),
		synapse.New(opcode.XHalt),
	}

	a := NewDefaultSession()
	b := NewDefaultSession()
	ra := mustRun(t, a, prog)
	rb := mustRun(t, b, prog)

	if !a.Registers().Equal(b.Registers()) {
		t.Error("register state diverged between identical sessions")
	}
	if len(ra.Trace) != len(rb.Trace) {
		t.Fatalf("trace lengths differ: %d vs %d", len(ra.Trace), len(rb.Trace))
	}
	for i := range ra.Trace {
		ea, eb := ra.Trace[i], rb.Trace[i]
		if ea.Seq != eb.Seq || ea.Type != eb.Type || ea.Message != eb.Message {
			t.Errorf("trace[%d] diverged: %v vs %v", i, ea, eb)
		}
	}
	if len(ra.Yielded) != len(rb.Yielded) {
		t.Fatalf("yield counts differ: %d vs %d", len(ra.Yielded), len(rb.Yielded))
	}
}

func TestReset(t *testing.T) {
	s := NewDefaultSession()
	mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.XSet, 0, 5),
		synapse.New(opcode.SSet, 1, 0),
		synapse.New(opcode.XHalt),
	})
	s.Reset()
	if s.State() != StateIdle {
		t.Errorf("state after Reset = %s, want idle", s.State())
	}
	if got := reg(t, s, 0); got != 0 {
		t.Errorf("R0 after Reset = %d, want 0", got)
	}
	mustRun(t, s, []synapse.Instruction{
		synapse.New(opcode.SHas, 2, 1),
		synapse.New(opcode.XHalt),
	})
	if got := reg(t, s, 2); got != 0 {
		t.Errorf("kv survived Reset: S_HAS = %d, want 0", got)
	}
}
