package sink

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chzchzchz/soapyfile/internal/capture"
	"github.com/chzchzchz/soapyfile/internal/radio"
	"github.com/chzchzchz/soapyfile/internal/ring"
)

func testSnapshot() radio.Snapshot {
	return radio.Snapshot{
		CenterHz:   433920000,
		SampleRate: 250000,
		Settings:   map[string]string{},
	}
}

func TestFileWriterWritesWAVHeaderAndSamples(t *testing.T) {
	rb := ring.New(1<<16, 4096)
	fw := NewFileWriter(rb, nil)
	defer fw.Stop()

	dir := t.TempDir()
	spec := capture.RecordingSpec{
		Output:      filepath.Join(dir, "capture"),
		NoTimestamp: true,
		Kind:        "wav32",
		Encoding:    "f32",
	}
	opened := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := fw.Open(spec, testSnapshot(), opened); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !fw.IsOpen() {
		t.Fatal("IsOpen() = false after Open")
	}

	writeComplex64(rb, []complex64{complex(0.25, -0.25), complex(0.5, 0.1)})
	time.Sleep(50 * time.Millisecond)

	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fw.IsOpen() {
		t.Fatal("IsOpen() = true after Close")
	}

	data, err := os.ReadFile(spec.Output)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		n := len(data)
		if n > 12 {
			n = 12
		}
		t.Fatalf("file does not start with a RIFF/WAVE header: %q", data[:n])
	}
	// 120-byte WAV32 header (RIFF 12 + fmt 24 + auxi 76 + data tag 8)
	// followed by the two f32 I/Q samples, 8 bytes each.
	const headerLen = 120
	if len(data) != headerLen+16 {
		t.Fatalf("file length = %d, want %d", len(data), headerLen+16)
	}
	for i, want := range []float32{0.25, -0.25, 0.5, 0.1} {
		got := math.Float32frombits(binary.LittleEndian.Uint32(data[headerLen+4*i:]))
		if got != want {
			t.Fatalf("payload value %d = %v, want %v", i, got, want)
		}
	}
}

func TestFileWriterRejectsSecondOpen(t *testing.T) {
	rb := ring.New(1<<16, 4096)
	fw := NewFileWriter(rb, nil)
	defer fw.Stop()

	dir := t.TempDir()
	spec := capture.RecordingSpec{Output: filepath.Join(dir, "capture"), NoTimestamp: true}
	if err := fw.Open(spec, testSnapshot(), time.Now()); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer fw.Close()

	if err := fw.Open(spec, testSnapshot(), time.Now()); err != capture.ErrRecordingOpen {
		t.Fatalf("second Open = %v, want ErrRecordingOpen", err)
	}
}
