package identity

import (
	"errors"
	"testing"
)

func TestBaselineChain(t *testing.T) {
	b, err := NewBaseline(0xCAFE, 16)
	if err != nil {
		t.Fatal(err)
	}
	if b.Seed() != 0xCAFE {
		t.Errorf("Seed() = 0x%04X, want 0xCAFE", b.Seed())
	}
	if b.Depth() != 16 {
		t.Errorf("Depth() = %d, want 16", b.Depth())
	}

	// Every element is the square of (seed+i) under wraparound.
	for i := 0; i < 16; i++ {
		a := uint32(0xCAFE) + uint32(i)
		got, err := b.Chain(i)
		if err != nil {
			t.Fatalf("Chain(%d) failed: %v", i, err)
		}
		if want := a * a; got != want {
			t.Errorf("Chain(%d) = %d, want %d", i, got, want)
		}
	}

	if _, err := b.Chain(16); err == nil {
		t.Error("Chain(16) accepted for depth 16")
	}
	if _, err := b.Chain(-1); err == nil {
		t.Error("Chain(-1) accepted")
	}
}

func TestMinDepth(t *testing.T) {
	if _, err := NewBaseline(1, 1); err == nil {
		t.Error("depth 1 accepted")
	}
	if _, err := NewBaseline(1, MinDepth); err != nil {
		t.Errorf("depth %d rejected: %v", MinDepth, err)
	}
}

func TestGnomonRecurrence(t *testing.T) {
	// a² + a + (a+1) == (a+1)², including across the wraparound boundary.
	for _, a := range []uint32{0, 1, 0xBEEF, 0xFFFF, 1<<31 - 1, 1<<32 - 1} {
		sq := a * a
		if got, want := GnomonUpdate(sq, a), (a+1)*(a+1); got != want {
			t.Errorf("GnomonUpdate(%d², %d) = %d, want %d", a, a, got, want)
		}
		if !AlgebraicVerify(a, sq, a+1, (a+1)*(a+1)) {
			t.Errorf("AlgebraicVerify failed for a=%d", a)
		}
	}
}

func TestVerifyElement(t *testing.T) {
	b, _ := NewBaseline(0xBEEF, 8)
	for i := 0; i < 7; i++ {
		if !b.VerifyElement(i) {
			t.Errorf("VerifyElement(%d) = false on a pristine chain", i)
		}
	}
	// The last element has no successor to probe against.
	if b.VerifyElement(7) {
		t.Error("VerifyElement(7) = true at the chain end")
	}
	if b.VerifyElement(-1) {
		t.Error("VerifyElement(-1) = true")
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	b, _ := NewBaseline(0xCAFE, 8)
	if !b.Verify() {
		t.Fatal("pristine chain fails Verify")
	}

	b.chain[3] ^= 1
	if b.Verify() {
		t.Error("Verify missed a flipped bit")
	}
	if b.VerifyElement(3) {
		t.Error("VerifyElement(3) missed the corrupt element")
	}
	if b.VerifyElement(2) {
		t.Error("VerifyElement(2) missed corruption in its successor")
	}
	// Pairs away from the damage still verify.
	if !b.VerifyElement(0) {
		t.Error("VerifyElement(0) failed far from the damage")
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	a, _ := NewBaseline(0xCAFE, 16)
	b, _ := NewBaseline(0xCAFE, 16)
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equal (seed, depth) produced different fingerprints")
	}

	c, _ := NewBaseline(0xCAFE, 17)
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different depths produced equal fingerprints")
	}
	d, _ := NewBaseline(0xCAFF, 16)
	if a.Fingerprint() == d.Fingerprint() {
		t.Error("different seeds produced equal fingerprints")
	}
}

func TestKeystream(t *testing.T) {
	b, _ := NewBaseline(7, 2)
	if b.KeystreamLen() != 8 {
		t.Fatalf("KeystreamLen() = %d, want 8", b.KeystreamLen())
	}
	// 49 = 0x00000031, 64 = 0x00000040, big-endian.
	want := []byte{0, 0, 0, 49, 0, 0, 0, 64}
	for i, w := range want {
		if got := b.KeystreamByte(uint64(i)); got != w {
			t.Errorf("KeystreamByte(%d) = 0x%02X, want 0x%02X", i, got, w)
		}
	}
	// Cyclic beyond one period.
	if b.KeystreamByte(8) != want[0] || b.KeystreamByte(11) != want[3] {
		t.Error("keystream does not repeat cyclically")
	}
}

func TestHandshake(t *testing.T) {
	local, fp, err := Initiate(0xCAFE, 16)
	if err != nil {
		t.Fatal(err)
	}
	remote, err := Respond(0xCAFE, 16, fp)
	if err != nil {
		t.Fatalf("Respond rejected a matching fingerprint: %v", err)
	}
	if local.Fingerprint() != remote.Fingerprint() {
		t.Error("fingerprints diverge after a successful handshake")
	}

	bad := append([]byte(nil), fp...)
	bad[0] ^= 0xFF
	if _, err := Respond(0xCAFE, 16, bad); !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("Respond error = %v, want ErrFingerprintMismatch", err)
	}
}

func TestSharedKeySymmetry(t *testing.T) {
	b, _ := NewBaseline(0xBEEF, 16)
	k1 := SharedKey(b, 3, 11)
	k2 := SharedKey(b, 11, 3)
	if len(k1) != SharedKeyLen {
		t.Fatalf("key length = %d, want %d", len(k1), SharedKeyLen)
	}
	for i := range k1 {
		if k1[i] != k2[i] {
			t.Fatal("shared key depends on agent argument order")
		}
	}

	k3 := SharedKey(b, 3, 12)
	same := true
	for i := range k1 {
		if k1[i] != k3[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different agent pairs derived the same key")
	}
}
