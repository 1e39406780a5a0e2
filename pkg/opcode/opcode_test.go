package opcode

import (
	"errors"
	"testing"
)

func TestCoreCount(t *testing.T) {
	if got := CoreCount(); got != 84 {
		t.Fatalf("CoreCount() = %d, want 84", got)
	}
}

func TestDomainRanges(t *testing.T) {
	ranges := map[Domain]struct{ lo, hi Opcode }{
		DomainTensor:    {0x00, 0x13},
		DomainAttention: {0x20, 0x2B},
		DomainExecution: {0x40, 0x53},
		DomainState:     {0x60, 0x6B},
		DomainConsensus: {0x80, 0x8B},
		DomainIdentity:  {0xA0, 0xA7},
	}

	table, err := NewTable()
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range CoreOpcodes() {
		d, err := table.Lookup(op)
		if err != nil {
			t.Fatalf("Lookup(%s) failed: %v", op, err)
		}
		r, ok := ranges[d.Domain]
		if !ok {
			t.Errorf("%s: unexpected domain %s", op, d.Domain)
			continue
		}
		if op < r.lo || op > r.hi {
			t.Errorf("%s (0x%02X) outside %s range 0x%02X-0x%02X",
				op, byte(op), d.Domain, byte(r.lo), byte(r.hi))
		}
	}

	// Every band is dense: each opcode between lo and hi is defined.
	for dom, r := range ranges {
		for op := r.lo; op <= r.hi; op++ {
			d, err := table.Lookup(op)
			if err != nil {
				t.Errorf("%s range has a hole at 0x%02X", dom, byte(op))
				continue
			}
			if d.Domain != dom {
				t.Errorf("0x%02X domain = %s, want %s", byte(op), d.Domain, dom)
			}
		}
	}
}

func TestDescriptorShape(t *testing.T) {
	table, err := NewTable()
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range CoreOpcodes() {
		d, _ := table.Lookup(op)
		if d.Mnemonic == "" {
			t.Errorf("0x%02X has no mnemonic", byte(op))
		}
		if d.Arity() != len(d.Operands) {
			t.Errorf("%s: arity %d != operand count %d", op, d.Arity(), len(d.Operands))
		}
		want := 1
		for _, k := range d.Operands {
			if k.Width() == 0 {
				t.Errorf("%s: operand kind %v has zero width", op, k)
			}
			want += k.Width()
		}
		if got := d.EncodedLen(); got != want {
			t.Errorf("%s: EncodedLen() = %d, want %d", op, got, want)
		}
	}
}

func TestKindWidth(t *testing.T) {
	for _, k := range []Kind{KindReg, KindTensorReg, KindContextReg} {
		if k.Width() != 1 {
			t.Errorf("%s width = %d, want 1", k, k.Width())
		}
	}
	for _, k := range []Kind{KindImmInt, KindImmFloat} {
		if k.Width() != 4 {
			t.Errorf("%s width = %d, want 4", k, k.Width())
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	table, err := NewTable()
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range []Opcode{0x14, 0x3F, 0x54, 0x7A, 0x8C, 0xA8, 0xC0, 0xFF} {
		if _, err := table.Lookup(op); !errors.Is(err, ErrUnknownOpcode) {
			t.Errorf("Lookup(0x%02X) error = %v, want ErrUnknownOpcode", byte(op), err)
		}
	}
}

func TestExtensionRegistration(t *testing.T) {
	ext := Extension{Op: 0xC0, Desc: Descriptor{Mnemonic: "E_PING", Operands: []Kind{KindReg}}}
	table, err := NewTable(ext)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	d, err := table.Lookup(0xC0)
	if err != nil {
		t.Fatalf("Lookup(0xC0) failed: %v", err)
	}
	if d.Mnemonic != "E_PING" {
		t.Errorf("mnemonic = %q, want E_PING", d.Mnemonic)
	}
	if d.Domain != DomainExtension {
		t.Errorf("domain = %s, want extension", d.Domain)
	}
	if table.ExtensionCount() != 1 {
		t.Errorf("ExtensionCount() = %d, want 1", table.ExtensionCount())
	}
}

func TestExtensionOutsideRange(t *testing.T) {
	for _, op := range []Opcode{0x00, 0x41, 0xBF, 0xF0} {
		if _, err := NewTable(Extension{Op: op, Desc: Descriptor{Mnemonic: "E_BAD"}}); err == nil {
			t.Errorf("NewTable accepted extension at 0x%02X", byte(op))
		}
	}
}

func TestExtensionCollision(t *testing.T) {
	a := Extension{Op: 0xD0, Desc: Descriptor{Mnemonic: "E_ONE"}}
	b := Extension{Op: 0xD0, Desc: Descriptor{Mnemonic: "E_TWO"}}
	if _, err := NewTable(a, b); err == nil {
		t.Fatal("NewTable accepted a colliding extension")
	}
}

func TestIsExtension(t *testing.T) {
	if !Opcode(0xC0).IsExtension() || !Opcode(0xEF).IsExtension() {
		t.Error("extension range boundaries not recognized")
	}
	if Opcode(0xBF).IsExtension() || Opcode(0xF0).IsExtension() {
		t.Error("opcodes outside 0xC0-0xEF reported as extensions")
	}
}

func TestIsControlFlow(t *testing.T) {
	for _, op := range []Opcode{XJmp, XJz, XJnz, XLoop, XCall, XRet, XFork, XSpawn} {
		if !op.IsControlFlow() {
			t.Errorf("%s not reported as control flow", op)
		}
	}
	for _, op := range []Opcode{XNop, XHalt, TAlloc, CVote} {
		if op.IsControlFlow() {
			t.Errorf("%s reported as control flow", op)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	if got := XHalt.String(); got != "X_HALT" {
		t.Errorf("XHalt.String() = %q, want X_HALT", got)
	}
	if got := Opcode(0xFE).String(); got != "OP(0xFE)" {
		t.Errorf("unknown opcode String() = %q, want OP(0xFE)", got)
	}
}
