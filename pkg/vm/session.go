// Package vm implements the SCRAWL execution engine: a register-based
// session that dispatches typed binary instructions through the opcode
// table into domain handlers, with cooperative sub-context multiplexing,
// per-instruction timeouts, consensus rounds, and trace fan-out.
package vm

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrawlvm/scrawl/pkg/identity"
	"github.com/scrawlvm/scrawl/pkg/opcode"
	"github.com/scrawlvm/scrawl/pkg/register"
	"github.com/scrawlvm/scrawl/pkg/synapse"
)

// SessionState is the engine state machine. Trapped is resumable; Halted
// and Aborted are terminal.
type SessionState int

const (
	StateIdle SessionState = iota
	StateRunning
	StateHalted
	StateTrapped
	StateAborted
)

// String returns a human-readable session state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateTrapped:
		return "trapped"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Terminal reports whether the session can never run again.
func (s SessionState) Terminal() bool {
	return s == StateHalted || s == StateAborted
}

// HandlerFunc executes one extension instruction. All mutations must go
// through the effect stage.
//
// When the per-instruction timeout fires, the handler goroutine is
// abandoned: its stage is discarded and the session moves on, but the
// goroutine itself keeps running until the handler returns. Handlers that
// may outlive the timeout must not read the session or its registers after
// their stage could have been discarded; long-running handlers should
// stage early and treat the *Session as read-only thereafter.
type HandlerFunc func(s *Session, in synapse.Instruction, eff *Effect) error

// ExtensionHandler binds an extension opcode descriptor to its handler.
type ExtensionHandler struct {
	Ext    opcode.Extension
	Handle HandlerFunc
}

// Config tunes one session. The zero value is usable.
type Config struct {
	// AgentID identifies this agent in consensus votes it initiates.
	AgentID int32

	// Timeout is the per-instruction wall clock. Zero disables the guard.
	Timeout time.Duration

	// MaxSteps bounds one batch. Zero means DefaultMaxSteps.
	MaxSteps int

	// Register bank sizes; zero means the register package defaults.
	GeneralRegisters int
	TensorRegisters  int
	ContextRegisters int

	// DefaultQuorum is the fractional threshold a round starts with until
	// C_QUORUM adjusts it. Zero means simple majority.
	DefaultQuorum float64

	// Extensions register additional opcodes into the open table range.
	Extensions []ExtensionHandler
}

// DefaultMaxSteps bounds a batch when Config.MaxSteps is zero.
const DefaultMaxSteps = 1 << 16

// DefaultTimeout is the per-instruction guard used by NewDefaultSession.
const DefaultTimeout = 100 * time.Millisecond

// Result summarizes one executed batch.
type Result struct {
	Executed int          // instructions dispatched
	Yielded  []int64      // values surfaced by X_YIELD, in order
	Trace    []TraceEvent // every event emitted during the batch
	FailedPC int          // pc of the failing instruction, -1 if none
}

// Session is one engine instance: register state, key/value store,
// baselines, consensus rounds, trace sinks, and the cooperative context
// arena. A session executes sequentially on one logical thread and is not
// safe for concurrent use.
type Session struct {
	ID  string
	cfg Config

	state    SessionState
	table    *opcode.Table
	handlers map[opcode.Domain]domainHandler
	ext      map[opcode.Opcode]HandlerFunc

	contexts *contextArena
	program  []synapse.Instruction
	trapPC   int

	kv        map[int64]int64
	snapshots map[int64]*Snapshot
	packed    map[int64][]byte
	baselines map[int]*identity.Baseline
	rounds    map[int32]*Round

	sinks    map[int]TraceSink
	nextSink int
	traceSeq uint64

	result *Result
}

// domainHandler executes every instruction of one core domain.
type domainHandler interface {
	handle(s *Session, c *subContext, in synapse.Instruction, eff *Effect) error
}

// NewSession builds a session from a config. Extension descriptors are
// registered into the opcode table here; the table is immutable afterwards.
func NewSession(cfg Config) (*Session, error) {
	exts := make([]opcode.Extension, len(cfg.Extensions))
	for i, e := range cfg.Extensions {
		exts[i] = e.Ext
	}
	table, err := opcode.NewTable(exts...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.New().String(),
		cfg:       cfg,
		table:     table,
		contexts:  newContextArena(register.NewFile(cfg.GeneralRegisters, cfg.TensorRegisters, cfg.ContextRegisters)),
		kv:        make(map[int64]int64),
		snapshots: make(map[int64]*Snapshot),
		packed:    make(map[int64][]byte),
		baselines: make(map[int]*identity.Baseline),
		rounds:    make(map[int32]*Round),
		sinks:     make(map[int]TraceSink),
	}
	s.handlers = map[opcode.Domain]domainHandler{
		opcode.DomainTensor:    tensorDomain{},
		opcode.DomainAttention: attentionDomain{},
		opcode.DomainExecution: executionDomain{},
		opcode.DomainState:     stateDomain{},
		opcode.DomainConsensus: consensusDomain{},
		opcode.DomainIdentity:  identityDomain{},
	}
	if len(cfg.Extensions) > 0 {
		s.ext = make(map[opcode.Opcode]HandlerFunc, len(cfg.Extensions))
		for _, e := range cfg.Extensions {
			s.ext[e.Ext.Op] = e.Handle
		}
	}
	return s, nil
}

// NewDefaultSession builds a session with the default timeout and bank
// sizes.
func NewDefaultSession() *Session {
	s, err := NewSession(Config{Timeout: DefaultTimeout})
	if err != nil {
		// No extensions, so NewTable cannot fail.
		panic(err)
	}
	return s
}

// State returns the session state.
func (s *Session) State() SessionState { return s.state }

// Table returns the session's opcode table.
func (s *Session) Table() *opcode.Table { return s.table }

// Registers returns the root context's register file.
func (s *Session) Registers() *register.File { return s.contexts.root().regs }

// Baseline returns the baseline bound to a context register slot, or nil.
func (s *Session) Baseline(creg int) *identity.Baseline {
	return s.baselines[creg]
}

// Round returns the consensus round for a proposal id, or nil.
func (s *Session) Round(proposal int32) *Round {
	return s.rounds[proposal]
}

// Reset clears register, key/value, baseline and round state and returns
// the session to Idle. Trace sinks stay registered.
func (s *Session) Reset() {
	root := s.contexts.root()
	root.regs.Reset()
	root.pc = 0
	root.callStack = nil
	root.state = ctxRunnable
	s.contexts = newContextArena(root.regs)
	s.kv = make(map[int64]int64)
	s.snapshots = make(map[int64]*Snapshot)
	s.packed = make(map[int64][]byte)
	s.baselines = make(map[int]*identity.Baseline)
	s.rounds = make(map[int32]*Round)
	s.program = nil
	s.state = StateIdle
}

// ExecuteFrame decodes a SYNAPSE frame against the session table and
// executes the instruction list it carries.
func (s *Session) ExecuteFrame(frame []byte) (*Result, error) {
	instrs, _, err := synapse.DecodeFrame(frame, s.table)
	if err != nil {
		return nil, err
	}
	return s.Execute(instrs)
}

// Execute runs a batch of instructions. A failing instruction aborts the
// batch at that point with prior mutations kept; the caller inspects the
// Result and decides recovery. On a trapped session only a batch opening
// with X_RESUME is accepted, and it resumes the recorded program counter.
func (s *Session) Execute(program []synapse.Instruction) (*Result, error) {
	switch s.state {
	case StateIdle:
		// proceed
	case StateTrapped:
		if len(program) > 0 && program[0].Op == opcode.XResume {
			return s.Resume()
		}
		return nil, fmt.Errorf("%w: trapped session accepts only X_RESUME", ErrInvalidTransition)
	default:
		return nil, fmt.Errorf("%w: execute on %s session", ErrInvalidTransition, s.state)
	}

	s.program = program
	root := s.contexts.root()
	root.pc = 0
	root.state = ctxRunnable
	s.state = StateRunning
	return s.run(root)
}

// Resume continues a trapped session from the recorded program counter.
func (s *Session) Resume() (*Result, error) {
	if s.state != StateTrapped {
		return nil, fmt.Errorf("%w: resume on %s session", ErrInvalidTransition, s.state)
	}
	root := s.contexts.root()
	root.pc = s.trapPC
	root.state = ctxRunnable
	s.state = StateRunning
	s.emit(TraceEvent{Domain: opcode.DomainExecution, Type: "resume", Severity: SeverityInfo,
		PC: s.trapPC, Message: fmt.Sprintf("resuming at pc=%d", s.trapPC)})
	return s.run(root)
}

// run is the cooperative scheduler: it advances one runnable context per
// tick until the root finishes, the session leaves Running, or the step
// budget runs out.
func (s *Session) run(cur *subContext) (*Result, error) {
	res := &Result{FailedPC: -1}
	s.result = res
	defer func() { s.result = nil }()

	maxSteps := s.cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	steps := 0
	for s.state == StateRunning {
		if cur == nil || cur.state != ctxRunnable {
			id := 0
			if cur != nil {
				id = cur.id
			}
			cur = s.contexts.next(id)
		}
		if cur == nil {
			if s.contexts.get(0) == nil {
				// Root already finished; nothing left to drive.
				s.state = StateIdle
				break
			}
			s.trap(s.contexts.root().pc)
			s.emit(TraceEvent{Domain: opcode.DomainExecution, Type: "parked", Severity: SeverityWarn,
				Message: "all contexts parked; trapping"})
			return res, fmt.Errorf("%w: all contexts parked", ErrInvalidTransition)
		}

		if cur.pc < 0 || cur.pc >= len(s.program) {
			// Running off the end completes the context.
			done := cur.id
			s.contexts.kill(done)
			if done == 0 {
				s.state = StateIdle
				break
			}
			cur = nil
			continue
		}

		if steps++; steps > maxSteps {
			s.trap(cur.pc)
			return res, fmt.Errorf("%w: %d steps", ErrStepBudget, maxSteps)
		}

		switchCtx, err := s.step(cur, res)
		if err != nil {
			res.FailedPC = cur.pc
			if s.state == StateRunning {
				s.state = StateIdle
			}
			return res, err
		}
		if switchCtx {
			cur = s.contexts.next(cur.id)
		}
	}
	return res, nil
}

// step dispatches the instruction at cur.pc: descriptor lookup, operand
// validation, timed handler execution, atomic stage commit, then control
// flow. Returns whether the scheduler should switch contexts.
func (s *Session) step(c *subContext, res *Result) (bool, error) {
	in := s.program[c.pc]
	d, err := s.table.Lookup(in.Op)
	if err != nil {
		s.emitError(c, in, err)
		return false, err
	}
	if len(in.Operands) != d.Arity() {
		err := fmt.Errorf("%w: %s expects %d operands, got %d",
			synapse.ErrDecode, d.Mnemonic, d.Arity(), len(in.Operands))
		s.emitError(c, in, err)
		return false, err
	}

	eff := &Effect{}
	if err := s.invoke(d, c, in, eff); err != nil {
		s.emitError(c, in, err)
		return false, err
	}
	res.Executed++

	if err := eff.apply(s, c); err != nil {
		s.emitError(c, in, err)
		return false, err
	}
	return s.applyControl(c, eff.ctl, res)
}

// invoke runs the domain handler, guarded by the configured wall clock.
// The stage is private to the handler, so an abandoned (timed out) handler
// cannot touch committed state.
func (s *Session) invoke(d opcode.Descriptor, c *subContext, in synapse.Instruction, eff *Effect) error {
	var handler func() error
	if d.Domain == opcode.DomainExtension {
		fn := s.ext[in.Op]
		if fn == nil {
			return fmt.Errorf("%w: no handler for extension %s", opcode.ErrUnknownOpcode, d.Mnemonic)
		}
		handler = func() error { return fn(s, in, eff) }
	} else {
		dh := s.handlers[d.Domain]
		handler = func() error { return dh.handle(s, c, in, eff) }
	}

	if s.cfg.Timeout <= 0 {
		return handler()
	}

	done := make(chan error, 1)
	go func() { done <- handler() }()
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		s.trap(c.pc + 1)
		return fmt.Errorf("%w: %s at pc=%d exceeded %s", ErrInstructionTimeout, d.Mnemonic, c.pc, s.cfg.Timeout)
	}
}

// trap records the resume point and parks the session.
func (s *Session) trap(resumePC int) {
	s.trapPC = resumePC
	s.state = StateTrapped
}

func (s *Session) emitError(c *subContext, in synapse.Instruction, err error) {
	s.emit(TraceEvent{
		Domain:   opcode.DomainExecution,
		Type:     "fault",
		Severity: SeverityError,
		PC:       c.pc,
		Context:  c.id,
		Message:  fmt.Sprintf("%s: %v", in, err),
	})
}

// applyControl advances the program counter, honoring any control-flow
// outcome staged by the handler.
func (s *Session) applyControl(c *subContext, ctl control, res *Result) (bool, error) {
	switch ctl.kind {
	case ctlNone:
		c.pc++

	case ctlHalt:
		if c.id == 0 {
			s.state = StateHalted
		} else {
			s.contexts.kill(c.id)
			return true, nil
		}

	case ctlAbort:
		s.state = StateAborted

	case ctlTrap:
		s.trap(c.pc + 1)

	case ctlYield:
		res.Yielded = append(res.Yielded, ctl.code)
		c.pc++
		return true, nil

	case ctlJump:
		if ctl.target < 0 || ctl.target > len(s.program) {
			return false, fmt.Errorf("%w: jump target %d outside program of %d instructions",
				synapse.ErrDecode, ctl.target, len(s.program))
		}
		c.pc = ctl.target

	case ctlCall:
		if ctl.target < 0 || ctl.target > len(s.program) {
			return false, fmt.Errorf("%w: call target %d outside program of %d instructions",
				synapse.ErrDecode, ctl.target, len(s.program))
		}
		c.callStack = append(c.callStack, c.pc+1)
		c.pc = ctl.target

	case ctlRet:
		if n := len(c.callStack); n > 0 {
			c.pc = c.callStack[n-1]
			c.callStack = c.callStack[:n-1]
		} else {
			// Returning from the top level completes the context.
			c.pc = len(s.program)
		}

	case ctlFork, ctlSpawn:
		if ctl.target < 0 || ctl.target > len(s.program) {
			return false, fmt.Errorf("%w: fork target %d outside program of %d instructions",
				synapse.ErrDecode, ctl.target, len(s.program))
		}
		var regs *register.File
		if ctl.kind == ctlFork {
			regs = c.regs.Clone()
		} else {
			regs = register.NewFile(s.cfg.GeneralRegisters, s.cfg.TensorRegisters, s.cfg.ContextRegisters)
		}
		child := s.contexts.add(regs, ctl.target)
		if err := c.regs.Set(ctl.reg, int64(child.id)); err != nil {
			s.contexts.kill(child.id)
			return false, err
		}
		c.pc++

	case ctlJoin:
		c.pc++
		if target := s.contexts.get(ctl.id); target != nil && target.id != c.id {
			c.state = ctxWaiting
			c.waitOn = ctl.id
			return true, nil
		}
		// Absent or dead target: join is an idempotent no-op.

	case ctlKill:
		self := ctl.id == c.id
		s.contexts.kill(ctl.id)
		c.pc++
		if self {
			if c.id == 0 {
				s.state = StateHalted
			}
			return true, nil
		}

	case ctlSleep:
		c.pc++
		if target := s.contexts.get(ctl.id); target != nil && target.state == ctxRunnable {
			target.state = ctxSleeping
			if target.id == c.id {
				return true, nil
			}
		}

	case ctlWake:
		c.pc++
		if target := s.contexts.get(ctl.id); target != nil && target.state == ctxSleeping {
			target.state = ctxRunnable
		}
	}
	return false, nil
}
