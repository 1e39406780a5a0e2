package identity

import (
	"crypto/subtle"
	"encoding/binary"
)

// SharedKeyLen is the length of a derived shared key in bytes.
const SharedKeyLen = 32

// Initiate derives a baseline and returns it with its fingerprint bytes,
// ready to send to a peer.
func Initiate(seed uint32, depth int) (*Baseline, []byte, error) {
	b, err := NewBaseline(seed, depth)
	if err != nil {
		return nil, nil, err
	}
	return b, b.FingerprintBytes(), nil
}

// Respond derives the same baseline locally and verifies the peer's
// fingerprint against it. A mismatch returns the local baseline along with
// ErrFingerprintMismatch so the caller can log both sides.
func Respond(seed uint32, depth int, peerFingerprint []byte) (*Baseline, error) {
	b, err := NewBaseline(seed, depth)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(b.FingerprintBytes(), peerFingerprint) != 1 {
		return b, ErrFingerprintMismatch
	}
	return b, nil
}

// SharedKey derives a 32-byte key from a baseline and the two agent ids.
// Both agents compute the same key regardless of argument order.
func SharedKey(b *Baseline, agentA, agentB uint32) []byte {
	if agentA > agentB {
		agentA, agentB = agentB, agentA
	}
	var mix [8]byte
	binary.BigEndian.PutUint32(mix[0:], agentA)
	binary.BigEndian.PutUint32(mix[4:], agentB)

	key := make([]byte, SharedKeyLen)
	for i := range key {
		key[i] = b.KeystreamByte(uint64(i)) ^ mix[i%len(mix)]
	}
	// Fold the fingerprint through so distinct depths with equal prefixes
	// still diverge.
	fp := b.FingerprintBytes()
	for i := range key {
		key[i] ^= fp[i%len(fp)]
	}
	return key
}
