package opcode

import (
	"errors"
	"fmt"
)

// ErrUnknownOpcode is returned by Lookup for opcodes with no descriptor.
var ErrUnknownOpcode = errors.New("opcode: unknown opcode")

// Table resolves opcodes to descriptors. The core domains are shared and
// immutable; extension descriptors are bound per table at construction and
// never change afterwards, so a Table is safe for concurrent readers.
type Table struct {
	ext map[Opcode]Descriptor
}

// Extension pairs an extension opcode with its descriptor for registration.
type Extension struct {
	Op   Opcode
	Desc Descriptor
}

// NewTable builds a table over the core domains plus the given extensions.
// Extensions must fall inside [ExtensionMin, ExtensionMax] and must not
// collide with each other.
func NewTable(exts ...Extension) (*Table, error) {
	t := &Table{}
	if len(exts) > 0 {
		t.ext = make(map[Opcode]Descriptor, len(exts))
	}
	for _, e := range exts {
		if !e.Op.IsExtension() {
			return nil, fmt.Errorf("opcode: 0x%02X is outside the extension range 0x%02X-0x%02X",
				byte(e.Op), byte(ExtensionMin), byte(ExtensionMax))
		}
		if _, taken := t.ext[e.Op]; taken {
			return nil, fmt.Errorf("opcode: extension 0x%02X registered twice", byte(e.Op))
		}
		if e.Desc.Mnemonic == "" {
			return nil, fmt.Errorf("opcode: extension 0x%02X has no mnemonic", byte(e.Op))
		}
		d := e.Desc
		d.Domain = DomainExtension
		t.ext[e.Op] = d
	}
	return t, nil
}

// Lookup returns the descriptor for op, checking the core domains first and
// then this table's extensions.
func (t *Table) Lookup(op Opcode) (Descriptor, error) {
	if d, ok := coreTable[op]; ok {
		return d, nil
	}
	if t != nil {
		if d, ok := t.ext[op]; ok {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(op))
}

// ExtensionCount returns the number of registered extension descriptors.
func (t *Table) ExtensionCount() int {
	if t == nil {
		return 0
	}
	return len(t.ext)
}
