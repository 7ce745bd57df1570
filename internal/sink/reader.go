// Package sink implements the ring buffer's consumer side: the File
// Writer, Peak Meter, Power Meter, and the sample-decoding plumbing shared
// HTTP Stream Sinks build on in internal/control.
package sink

import (
	"math"

	"github.com/chzchzchz/soapyfile/internal/ring"
)

// FrameReader pulls the ring's canonical little-endian interleaved f32 I/Q
// bytes and decodes them back into complex64 samples, holding onto any
// trailing partial sample between calls so a chunk boundary never splits a
// sample in two.
type FrameReader struct {
	rb   *ring.Buffer
	h    *ring.Handle
	raw  []byte
	left []byte

	slips uint64 // handle slip count already reported by Next
}

// NewFrameReader subscribes a new reader to rb. chunkBytes bounds how many
// raw bytes are pulled from the ring per Next call.
func NewFrameReader(rb *ring.Buffer, chunkBytes int) *FrameReader {
	return &FrameReader{rb: rb, h: rb.Subscribe(), raw: make([]byte, chunkBytes)}
}

// Close unsubscribes the reader from its ring.
func (f *FrameReader) Close() { f.rb.Unsubscribe(f.h) }

// Slips returns the number of times this reader has fallen behind and been
// slipped forward by the producer.
func (f *FrameReader) Slips() uint64 { return f.h.Slips() }

// Next blocks for at least one ring read and returns the decoded samples
// along with whether this call observed a slip (a gap in the handle's
// cursor advance relative to bytes actually consumed).
func (f *FrameReader) Next() ([]complex64, bool, error) {
	n, err := f.rb.Read(f.h, f.raw)
	if err != nil {
		return nil, false, err
	}
	slips := f.h.Slips()
	slipped := slips != f.slips
	f.slips = slips

	data := f.raw[:n]
	if len(f.left) > 0 {
		data = append(append([]byte{}, f.left...), data...)
	}
	usable := len(data) - (len(data) % 8)
	samples := decodeF32(data[:usable])
	f.left = append(f.left[:0], data[usable:]...)
	return samples, slipped, nil
}

func decodeF32(b []byte) []complex64 {
	out := make([]complex64, len(b)/8)
	for i := range out {
		re := getFloat32(b[8*i:])
		im := getFloat32(b[8*i+4:])
		out[i] = complex(re, im)
	}
	return out
}

func getFloat32(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}
