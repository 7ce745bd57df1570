// Package container writes the on-disk/on-wire audio containers: RIFF/WAVE,
// RF64 (with ds64), the SDR-specific auxi chunk, and headerless raw CF32.
// Byte layouts follow spec.md §4.E; grounded on the teacher's
// radio/wav/wav.go for the RIFF skeleton and on original_source/soapyfile.py
// for the auxi/ds64 field values.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

var ErrBadFormat = errors.New("container: bad format")

// Kind selects the container written for a Recording Session.
type Kind int

const (
	KindWAV32 Kind = iota
	KindRF64
	KindCF32Raw
)

func (k Kind) Ext() string {
	if k == KindCF32Raw {
		return "cf32"
	}
	return "wav"
}

// Encoding selects how samples are quantized before being written.
type Encoding int

const (
	EncodingF32 Encoding = iota
	EncodingS16
)

func (e Encoding) BytesPerSample() int {
	if e == EncodingS16 {
		return 2
	}
	return 4
}

const channels = 2 // interleaved I/Q

// FrameBytes is the number of bytes for one (I, Q) sample pair at e.
func (e Encoding) FrameBytes() int { return channels * e.BytesPerSample() }

const (
	maxUint32 = 0xFFFFFFFF
	maxUint64 = 0xFFFFFFFFFFFFFFFF
)

// SystemTime is the little-endian packed timestamp used by the auxi chunk,
// matching the Windows SYSTEMTIME convention HDSDR/SpectraVue expect.
type SystemTime struct {
	Year, Month, DayOfWeek, Day uint16
	Hour, Minute, Second, Milli uint16
}

// Now returns the current UTC time as a SystemTime.
func Now() SystemTime {
	t := time.Now().UTC()
	dow := uint16(t.Weekday())
	return SystemTime{
		Year: uint16(t.Year()), Month: uint16(t.Month()),
		DayOfWeek: dow, Day: uint16(t.Day()),
		Hour: uint16(t.Hour()), Minute: uint16(t.Minute()),
		Second: uint16(t.Second()), Milli: uint16(t.Nanosecond() / 1e6),
	}
}

func (s SystemTime) write(w io.Writer) error {
	fields := [8]uint16{s.Year, s.Month, s.DayOfWeek, s.Day, s.Hour, s.Minute, s.Second, s.Milli}
	return binary.Write(w, binary.LittleEndian, fields)
}

// Auxi is the SDR-specific metadata chunk. MaxVal should be 32767 for s16
// sessions and 1 for f32 sessions.
type Auxi struct {
	Start, Stop                SystemTime
	CenterFreqHz, SampleRateHz uint32
	IFFreqHz                   int32
	BandwidthHz                uint32
	IQOffset, DBOffset, MaxVal int32
}

// size of the auxi chunk body: two 16-byte SystemTime fields plus nine
// little-endian uint32 fields (7 named values + 2 reserved), matching the
// 68-byte layout used by original_source/soapyfile.py and the
// SpectraVue/HDSDR convention it follows.
const auxiBodySize = 16 + 16 + 9*4

// wav32RIFFOverhead is everything the WAV32 RIFF ChunkSize counts besides
// the sample payload: "WAVE" (4) + fmt chunk (8 header + 16 body) + auxi
// chunk header (8, body is auxiBodySize) + data chunk header (8).
const wav32RIFFOverhead = 4 + 8 + 16 + 8 + 8

// rf64RIFFOverhead is wav32RIFFOverhead plus the full ds64 chunk (8 header
// + 28 body), which RF64 carries in place of a 32-bit data size.
const rf64RIFFOverhead = wav32RIFFOverhead + 8 + 28

func (a Auxi) write(w io.Writer) error {
	if err := a.Start.write(w); err != nil {
		return err
	}
	if err := a.Stop.write(w); err != nil {
		return err
	}
	fields := [9]int32{
		int32(a.CenterFreqHz), int32(a.SampleRateHz), a.IFFreqHz,
		int32(a.BandwidthHz), a.IQOffset, a.DBOffset, a.MaxVal, 0, 0,
	}
	return binary.Write(w, binary.LittleEndian, fields)
}

func writeChunkTag(w io.Writer, id string, size uint32) error {
	var buf [8]byte
	copy(buf[:4], id)
	binary.LittleEndian.PutUint32(buf[4:], size)
	_, err := w.Write(buf[:])
	return err
}

// fmtChunk writes the "fmt " chunk for the given encoding/rate.
func writeFmtChunk(w io.Writer, enc Encoding, sampleRate uint32) error {
	if err := writeChunkTag(w, "fmt ", 16); err != nil {
		return err
	}
	audioFormat := uint16(1)
	if enc == EncodingF32 {
		audioFormat = 3
	}
	bits := uint16(enc.BytesPerSample() * 8)
	blockAlign := uint16(enc.FrameBytes())
	byteRate := sampleRate * uint32(blockAlign)
	fields := struct {
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{audioFormat, channels, sampleRate, byteRate, blockAlign, bits}
	return binary.Write(w, binary.LittleEndian, fields)
}

func writeAuxiChunk(w io.Writer, aux Auxi) error {
	if err := writeChunkTag(w, "auxi", auxiBodySize); err != nil {
		return err
	}
	return aux.write(w)
}

// Offsets records where the mutable size fields of a written header land,
// so a Writer can patch them in place as more data arrives and at close.
type Offsets struct {
	RIFFSize     int64 // 4 bytes, WAV32 and RF64 both set this (0xFFFFFFFF for RF64)
	DataSize32   int64 // 4 bytes, the "data" chunk's own size32 field
	DS64RIFFSize int64 // RF64 only: 8 bytes
	DS64DataSize int64 // RF64 only: 8 bytes
	DS64Samples  int64 // RF64 only: 8 bytes
	AuxiStop     int64 // 16 bytes, the auxi chunk's stop_time field
	DataStart    int64 // offset where sample payload begins
}

// WriteHeader writes a full container header for kind/enc declaring
// dataSize bytes of payload, returning the byte offsets of fields that must
// be rewritten as the session progresses and at close. For WAV32, streaming
// replaces both 32-bit size fields with the 0xFFFFFFFF sentinel; RF64 always
// writes the sentinel into its 32-bit fields and dataSize into ds64,
// whatever streaming says.
func WriteHeader(w io.Writer, kind Kind, enc Encoding, sampleRate uint32, aux Auxi, dataSize uint64, streaming bool) (Offsets, error) {
	if kind == KindCF32Raw {
		return Offsets{}, nil // headerless
	}

	var off int64
	write := func(p []byte) error {
		_, err := w.Write(p)
		off += int64(len(p))
		return err
	}
	writeAt := func(fn func(io.Writer) error) error {
		cw := &countingWriter{w: w}
		if err := fn(cw); err != nil {
			return err
		}
		off += cw.n
		return nil
	}

	var o Offsets

	if kind == KindWAV32 {
		size32 := uint32(maxUint32)
		if !streaming {
			size32 = uint32(dataSize) + wav32RIFFOverhead + auxiBodySize
		}
		if err := write([]byte("RIFF")); err != nil {
			return o, err
		}
		o.RIFFSize = off
		if err := writeAt(func(w io.Writer) error { return binary.Write(w, binary.LittleEndian, size32) }); err != nil {
			return o, err
		}
		if err := write([]byte("WAVE")); err != nil {
			return o, err
		}
		if err := writeAt(func(w io.Writer) error { return writeFmtChunk(w, enc, sampleRate) }); err != nil {
			return o, err
		}
		if err := writeAt(func(w io.Writer) error { return writeAuxiChunk(w, aux) }); err != nil {
			return o, err
		}
		o.AuxiStop = off - (auxiBodySize - 16) // offset of the stop_time field within the chunk body
		if err := write([]byte("data")); err != nil {
			return o, err
		}
		o.DataSize32 = off
		dsize32 := uint32(maxUint32)
		if !streaming {
			dsize32 = uint32(dataSize)
		}
		if err := writeAt(func(w io.Writer) error { return binary.Write(w, binary.LittleEndian, dsize32) }); err != nil {
			return o, err
		}
		o.DataStart = off
		return o, nil
	}

	// RF64
	if err := write([]byte("RF64")); err != nil {
		return o, err
	}
	o.RIFFSize = off
	if err := writeAt(func(w io.Writer) error { return binary.Write(w, binary.LittleEndian, uint32(maxUint32)) }); err != nil {
		return o, err
	}
	if err := write([]byte("WAVE")); err != nil {
		return o, err
	}
	if err := writeAt(func(w io.Writer) error { return writeFmtChunk(w, enc, sampleRate) }); err != nil {
		return o, err
	}
	if err := writeAt(func(w io.Writer) error { return writeAuxiChunk(w, aux) }); err != nil {
		return o, err
	}
	o.AuxiStop = off - (auxiBodySize - 16)

	blockAlign := uint64(enc.FrameBytes())
	riffSize := dataSize + rf64RIFFOverhead + auxiBodySize
	sampleCount := dataSize / blockAlign

	if err := write([]byte("ds64")); err != nil {
		return o, err
	}
	if err := writeAt(func(w io.Writer) error { return binary.Write(w, binary.LittleEndian, uint32(28)) }); err != nil {
		return o, err
	}
	o.DS64RIFFSize = off
	if err := writeAt(func(w io.Writer) error { return binary.Write(w, binary.LittleEndian, riffSize) }); err != nil {
		return o, err
	}
	o.DS64DataSize = off
	if err := writeAt(func(w io.Writer) error { return binary.Write(w, binary.LittleEndian, dataSize) }); err != nil {
		return o, err
	}
	o.DS64Samples = off
	if err := writeAt(func(w io.Writer) error { return binary.Write(w, binary.LittleEndian, sampleCount) }); err != nil {
		return o, err
	}
	// tableLength = 0, the "(empty) table".
	if err := writeAt(func(w io.Writer) error { return binary.Write(w, binary.LittleEndian, uint32(0)) }); err != nil {
		return o, err
	}
	if err := write([]byte("data")); err != nil {
		return o, err
	}
	o.DataSize32 = off
	if err := writeAt(func(w io.Writer) error { return binary.Write(w, binary.LittleEndian, uint32(maxUint32)) }); err != nil {
		return o, err
	}
	o.DataStart = off
	return o, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// PatchSizes rewrites the mutable size fields of an already-written
// header in place, using ws.Seek, so a crashed file remains playable up
// to the last patch. For KindCF32Raw this is a no-op.
func PatchSizes(ws io.WriteSeeker, kind Kind, enc Encoding, o Offsets, dataSize uint64) error {
	if kind == KindCF32Raw {
		return nil
	}
	writeAt := func(offset int64, v interface{}) error {
		if _, err := ws.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		return binary.Write(ws, binary.LittleEndian, v)
	}

	if kind == KindWAV32 {
		riffSize := uint32(dataSize) + wav32RIFFOverhead + auxiBodySize
		if err := writeAt(o.RIFFSize, riffSize); err != nil {
			return err
		}
		return writeAt(o.DataSize32, uint32(dataSize))
	}

	blockAlign := uint64(enc.FrameBytes())
	riffSize := dataSize + rf64RIFFOverhead + auxiBodySize
	sampleCount := dataSize / blockAlign
	if err := writeAt(o.DS64RIFFSize, riffSize); err != nil {
		return err
	}
	if err := writeAt(o.DS64DataSize, dataSize); err != nil {
		return err
	}
	return writeAt(o.DS64Samples, sampleCount)
}

// PatchAuxiStop rewrites the auxi chunk's stop_time field at session close.
func PatchAuxiStop(ws io.WriteSeeker, o Offsets, stop SystemTime) error {
	if _, err := ws.Seek(o.AuxiStop, io.SeekStart); err != nil {
		return err
	}
	return stop.write(ws)
}

// EncodeF32 writes interleaved float32 I/Q samples verbatim, little-endian.
func EncodeF32(w io.Writer, samples []complex64) (int, error) {
	buf := make([]byte, 8*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[8*i:], float32bits(real(s)))
		binary.LittleEndian.PutUint32(buf[8*i+4:], float32bits(imag(s)))
	}
	return w.Write(buf)
}

// EncodeS16 converts interleaved float32 I/Q in [-1, 1] to signed 16-bit
// PCM via clamp(round(x*32768), -32768, 32767).
func EncodeS16(w io.Writer, samples []complex64) (int, error) {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[4*i:], uint16(quantizeS16(real(s))))
		binary.LittleEndian.PutUint16(buf[4*i+2:], uint16(quantizeS16(imag(s))))
	}
	return w.Write(buf)
}

func quantizeS16(x float32) int16 {
	v := roundFloat(float64(x) * 32768.0)
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}

func roundFloat(x float64) float64 {
	if x >= 0 {
		return float64(int64(x + 0.5))
	}
	return float64(int64(x - 0.5))
}

func float32bits(f float32) uint32 {
	return math.Float32bits(f)
}

// ValidateKindEncoding rejects nonsensical combinations early, the way
// wav.NewWriter in the teacher rejects a zero rate/depth/channels.
func ValidateKindEncoding(kind Kind, enc Encoding, sampleRate uint32) error {
	if sampleRate == 0 {
		return fmt.Errorf("%w: zero sample rate", ErrBadFormat)
	}
	if kind == KindCF32Raw && enc == EncodingS16 {
		return fmt.Errorf("%w: raw cf32 container cannot hold s16 samples", ErrBadFormat)
	}
	return nil
}

// wav32Headroom is reserved below the 32-bit RIFF size limit so the fixed
// chunk overhead (fmt + auxi + data tag) never itself pushes the size field
// past 0xFFFFFFFF before ExceedsWAV32Limit would have already tripped.
const wav32Headroom = 1 << 20

// ExceedsWAV32Limit reports whether dataSize bytes of payload would
// overflow a WAV32 file's 32-bit RIFF/data size fields, meaning the session
// should be promoted to RF64 on close.
func ExceedsWAV32Limit(dataSize uint64) bool {
	return dataSize > uint64(maxUint32)-wav32Headroom
}
