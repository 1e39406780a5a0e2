// Package register implements the SCRAWL register file: three disjoint
// banks (general-purpose scalars, tensor handles, context handles) plus the
// tensor store the tensor bank points into.
//
// Register names follow the SCRAWL convention: R0..Rn for general registers,
// TR0..TRn for tensor registers, CR0..CRn for context registers.
package register

import (
	"errors"
	"fmt"
)

// ErrRegisterOutOfRange is returned for any index outside a bank.
var ErrRegisterOutOfRange = errors.New("register: index out of range")

// Default bank sizes, matching the reference configuration.
const (
	DefaultGeneral = 16
	DefaultTensor  = 16
	DefaultContext = 8
)

// File is one session's register state. A File is exclusively owned by its
// session and is not safe for concurrent mutation.
type File struct {
	general []int64
	tensors []*Tensor
	context []int64
}

// NewFile allocates a register file with the given bank sizes. Non-positive
// sizes fall back to the defaults.
func NewFile(general, tensor, context int) *File {
	if general <= 0 {
		general = DefaultGeneral
	}
	if tensor <= 0 {
		tensor = DefaultTensor
	}
	if context <= 0 {
		context = DefaultContext
	}
	return &File{
		general: make([]int64, general),
		tensors: make([]*Tensor, tensor),
		context: make([]int64, context),
	}
}

// NewDefaultFile allocates a register file with the default bank sizes.
func NewDefaultFile() *File {
	return NewFile(0, 0, 0)
}

// GeneralCount returns the size of the general-purpose bank.
func (f *File) GeneralCount() int { return len(f.general) }

// TensorCount returns the size of the tensor bank.
func (f *File) TensorCount() int { return len(f.tensors) }

// ContextCount returns the size of the context bank.
func (f *File) ContextCount() int { return len(f.context) }

// Get reads general register R<idx>.
func (f *File) Get(idx int) (int64, error) {
	if idx < 0 || idx >= len(f.general) {
		return 0, fmt.Errorf("%w: R%d (bank size %d)", ErrRegisterOutOfRange, idx, len(f.general))
	}
	return f.general[idx], nil
}

// Set writes general register R<idx>.
func (f *File) Set(idx int, v int64) error {
	if idx < 0 || idx >= len(f.general) {
		return fmt.Errorf("%w: R%d (bank size %d)", ErrRegisterOutOfRange, idx, len(f.general))
	}
	f.general[idx] = v
	return nil
}

// GetTensor reads tensor register TR<idx>. An unallocated slot returns nil
// with no error; handlers decide whether that is a fault.
func (f *File) GetTensor(idx int) (*Tensor, error) {
	if idx < 0 || idx >= len(f.tensors) {
		return nil, fmt.Errorf("%w: TR%d (bank size %d)", ErrRegisterOutOfRange, idx, len(f.tensors))
	}
	return f.tensors[idx], nil
}

// SetTensor stores a tensor in TR<idx>. The slot takes exclusive ownership;
// nil clears the slot.
func (f *File) SetTensor(idx int, t *Tensor) error {
	if idx < 0 || idx >= len(f.tensors) {
		return fmt.Errorf("%w: TR%d (bank size %d)", ErrRegisterOutOfRange, idx, len(f.tensors))
	}
	f.tensors[idx] = t
	return nil
}

// GetContext reads context register CR<idx>.
func (f *File) GetContext(idx int) (int64, error) {
	if idx < 0 || idx >= len(f.context) {
		return 0, fmt.Errorf("%w: CR%d (bank size %d)", ErrRegisterOutOfRange, idx, len(f.context))
	}
	return f.context[idx], nil
}

// SetContext writes context register CR<idx>.
func (f *File) SetContext(idx int, v int64) error {
	if idx < 0 || idx >= len(f.context) {
		return fmt.Errorf("%w: CR%d (bank size %d)", ErrRegisterOutOfRange, idx, len(f.context))
	}
	f.context[idx] = v
	return nil
}

// Reset zeroes every bank and drops all tensors.
func (f *File) Reset() {
	for i := range f.general {
		f.general[i] = 0
	}
	for i := range f.tensors {
		f.tensors[i] = nil
	}
	for i := range f.context {
		f.context[i] = 0
	}
}

// Clone deep-copies the register file, including tensor buffers. Used by
// fork instructions and snapshots.
func (f *File) Clone() *File {
	c := &File{
		general: make([]int64, len(f.general)),
		tensors: make([]*Tensor, len(f.tensors)),
		context: make([]int64, len(f.context)),
	}
	copy(c.general, f.general)
	copy(c.context, f.context)
	for i, t := range f.tensors {
		if t != nil {
			c.tensors[i] = t.Clone()
		}
	}
	return c
}

// Equal reports whether two register files hold identical state.
// Tensor slots compare by shape and element values.
func (f *File) Equal(o *File) bool {
	if len(f.general) != len(o.general) || len(f.tensors) != len(o.tensors) || len(f.context) != len(o.context) {
		return false
	}
	for i := range f.general {
		if f.general[i] != o.general[i] {
			return false
		}
	}
	for i := range f.context {
		if f.context[i] != o.context[i] {
			return false
		}
	}
	for i := range f.tensors {
		a, b := f.tensors[i], o.tensors[i]
		if (a == nil) != (b == nil) {
			return false
		}
		if a == nil {
			continue
		}
		if !a.SameShape(b) {
			return false
		}
		for j := range a.Data {
			if a.Data[j] != b.Data[j] {
				return false
			}
		}
	}
	return true
}
