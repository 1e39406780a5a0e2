package vm

import "errors"

var (
	// ErrInvalidTransition is returned for illegal session or consensus
	// state changes, including votes on terminal rounds.
	ErrInvalidTransition = errors.New("vm: invalid state transition")

	// ErrInstructionTimeout is returned when a handler exceeds the
	// configured per-instruction wall clock. The session traps and no
	// staged mutation is applied.
	ErrInstructionTimeout = errors.New("vm: instruction timeout")

	// ErrStepBudget is returned when a batch exceeds the configured step
	// limit, which usually means a runaway loop. The session traps so the
	// caller can inspect and resume.
	ErrStepBudget = errors.New("vm: step budget exhausted")
)
