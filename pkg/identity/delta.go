package identity

import (
	"errors"
	"fmt"
)

// ErrRLECorruption is returned when a compressed stream is truncated or
// carries an invalid repeat count. Corruption is always reported, never
// silently misdecoded.
var ErrRLECorruption = errors.New("identity: corrupt RLE stream")

// Compressor encodes payloads as run-length-encoded XOR deltas against an
// expectation derived from a shared baseline.
//
// The expectation for the first payload is the baseline keystream; after
// each message it becomes the previous plaintext, extended with keystream
// bytes beyond its length. A retransmitted identical payload therefore
// XORs to all zeroes and collapses to the minimal run marker.
//
// A Compressor is a cheap wrapper around an immutable *Baseline. Its only
// mutable state is the expectation and a message counter; a fresh pair of
// Compressor and Decompressor over the same baseline stay in lockstep as
// long as every compressed message is decompressed exactly once, in order.
type Compressor struct {
	baseline *Baseline
	expected []byte
	seq      uint64
}

// Decompressor reverses Compressor, tracking the same expectation.
type Decompressor struct {
	baseline *Baseline
	expected []byte
	seq      uint64
}

// NewCompressor returns a compressor at the initial keystream expectation.
func NewCompressor(b *Baseline) *Compressor {
	return &Compressor{baseline: b}
}

// NewDecompressor returns a decompressor at the initial keystream
// expectation.
func NewDecompressor(b *Baseline) *Decompressor {
	return &Decompressor{baseline: b}
}

func expectedByte(b *Baseline, expected []byte, i int) byte {
	if i < len(expected) {
		return expected[i]
	}
	return b.KeystreamByte(uint64(i))
}

// Compress encodes payload against the current expectation and advances it.
// Compressing the same payload from the same state always yields identical
// bytes.
func (c *Compressor) Compress(payload []byte) []byte {
	diff := make([]byte, len(payload))
	for i, v := range payload {
		diff[i] = v ^ expectedByte(c.baseline, c.expected, i)
	}
	out := rleEncode(diff)
	c.expected = append(c.expected[:0:0], payload...)
	c.seq++
	return out
}

// Seq returns the number of messages compressed so far.
func (c *Compressor) Seq() uint64 { return c.seq }

// Reset returns the compressor to the initial keystream expectation.
func (c *Compressor) Reset() {
	c.expected = nil
	c.seq = 0
}

// Decompress decodes one compressed message and advances the expectation.
// For every payload x and baseline B, Decompress(Compress(x)) == x when
// both sides started from the same state.
func (d *Decompressor) Decompress(data []byte) ([]byte, error) {
	diff, err := rleDecode(data)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, len(diff))
	for i, v := range diff {
		payload[i] = v ^ expectedByte(d.baseline, d.expected, i)
	}
	// The caller owns the returned slice; keep a private copy so later
	// mutation of it cannot desynchronize the expectation.
	d.expected = append(d.expected[:0:0], payload...)
	d.seq++
	return payload, nil
}

// Seq returns the number of messages decompressed so far.
func (d *Decompressor) Seq() uint64 { return d.seq }

// Reset returns the decompressor to the initial keystream expectation.
func (d *Decompressor) Reset() {
	d.expected = nil
	d.seq = 0
}

// rleEncode emits (count, value) byte pairs, count in 1..255. An all-zero
// input of any length up to 255 bytes collapses to a single pair.
func rleEncode(data []byte) []byte {
	out := make([]byte, 0, len(data)/2+2)
	i := 0
	for i < len(data) {
		v := data[i]
		run := 1
		for i+run < len(data) && data[i+run] == v && run < 255 {
			run++
		}
		out = append(out, byte(run), v)
		i += run
	}
	return out
}

// rleDecode expands (count, value) pairs. A trailing half pair or a zero
// count means the stream is damaged.
func rleDecode(data []byte) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: truncated run at byte %d", ErrRLECorruption, len(data)-1)
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i += 2 {
		count := int(data[i])
		if count == 0 {
			return nil, fmt.Errorf("%w: zero repeat count at byte %d", ErrRLECorruption, i)
		}
		v := data[i+1]
		for j := 0; j < count; j++ {
			out = append(out, v)
		}
	}
	return out, nil
}
