// Package identity implements the ML Identity substrate: deterministic
// integer baselines derived from a shared seed, the gnomon recurrence that
// maintains a running square with addition-only steps, and the delta
// compression codec layered on top.
//
// Wire contract: chain elements are 32-bit values under wraparound
// arithmetic. When flattened into the compression keystream, each element
// contributes exactly 4 bytes, big-endian, in chain order, and the keystream
// repeats cyclically to cover any payload length. Sender and receiver must
// derive baselines from the same (seed, depth) for the codec to interoperate.
package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// MinDepth is the smallest usable chain: the algebraic probe needs at least
// one adjacent pair.
const MinDepth = 2

// Baseline is a deterministic chain of depth 32-bit integers: element i is
// (seed+i)² under wraparound arithmetic. A Baseline is immutable after
// construction and may be read concurrently without synchronization.
type Baseline struct {
	seed      uint32
	chain     []uint32
	keystream []byte
}

// NewBaseline derives a baseline from (seed, depth). The first square is
// anchored with a single wraparound multiply; every subsequent element is
// produced by the gnomon recurrence, which is addition-only.
func NewBaseline(seed uint32, depth int) (*Baseline, error) {
	if depth < MinDepth {
		return nil, fmt.Errorf("identity: depth %d below minimum %d", depth, MinDepth)
	}
	chain := make([]uint32, depth)
	sq := seed * seed
	chain[0] = sq
	a := seed
	for i := 1; i < depth; i++ {
		sq = GnomonUpdate(sq, a)
		chain[i] = sq
		a++
	}
	ks := make([]byte, 4*depth)
	for i, v := range chain {
		binary.BigEndian.PutUint32(ks[4*i:], v)
	}
	return &Baseline{seed: seed, chain: chain, keystream: ks}, nil
}

// Seed returns the derivation seed.
func (b *Baseline) Seed() uint32 { return b.seed }

// Depth returns the chain length.
func (b *Baseline) Depth() int { return len(b.chain) }

// Chain returns element i.
func (b *Baseline) Chain(i int) (uint32, error) {
	if i < 0 || i >= len(b.chain) {
		return 0, fmt.Errorf("identity: chain index %d out of range (depth %d)", i, len(b.chain))
	}
	return b.chain[i], nil
}

// KeystreamByte returns byte i of the cyclically repeated keystream.
func (b *Baseline) KeystreamByte(i uint64) byte {
	return b.keystream[i%uint64(len(b.keystream))]
}

// KeystreamLen returns the length of one keystream period in bytes.
func (b *Baseline) KeystreamLen() int { return len(b.keystream) }

// VerifyElement runs the O(1) algebraic probe on the pair (i, i+1):
// with a = seed+i and b = a+1, chain[i] + a + b must equal chain[i+1].
// A single corrupted element breaks the probe for its adjacent pairs
// without any chain recomputation.
func (b *Baseline) VerifyElement(i int) bool {
	if i < 0 || i >= len(b.chain)-1 {
		return false
	}
	a := b.seed + uint32(i)
	return AlgebraicVerify(a, b.chain[i], a+1, b.chain[i+1])
}

// Verify probes every adjacent pair, plus the anchor against the seed.
func (b *Baseline) Verify() bool {
	if b.chain[0] != b.seed*b.seed {
		return false
	}
	for i := 0; i < len(b.chain)-1; i++ {
		if !b.VerifyElement(i) {
			return false
		}
	}
	return true
}

// Fingerprint folds the chain into a 64-bit value. Identical (seed, depth)
// always produce identical fingerprints on any platform.
func (b *Baseline) Fingerprint() uint64 {
	fp := uint64(b.seed)<<32 | uint64(len(b.chain))
	for _, v := range b.chain {
		fp ^= uint64(v)
		fp = bits.RotateLeft64(fp, 13)
		fp += 0x9E3779B97F4A7C15
	}
	return fp
}

// FingerprintBytes returns the fingerprint as 8 big-endian bytes.
func (b *Baseline) FingerprintBytes() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, b.Fingerprint())
	return out
}

// GnomonUpdate advances a running square by one step: given a² and a, it
// returns (a+1)² as a² + a + (a+1). Addition only, wraparound on overflow.
func GnomonUpdate(sq, a uint32) uint32 {
	return sq + a + (a + 1)
}

// AlgebraicVerify checks the ML Identity a + a² + b == b² for b = a+1 under
// wraparound arithmetic.
func AlgebraicVerify(a, aSq, b, bSq uint32) bool {
	return aSq+a+b == bSq
}

// ErrFingerprintMismatch is returned by Respond when the peer's declared
// fingerprint does not match the locally derived baseline.
var ErrFingerprintMismatch = errors.New("identity: fingerprint mismatch")
