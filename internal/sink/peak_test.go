package sink

import (
	"math"
	"testing"
	"time"

	"github.com/chzchzchz/soapyfile/internal/ring"
)

func writeComplex64(rb *ring.Buffer, samples []complex64) {
	buf := make([]byte, 8*len(samples))
	for i, s := range samples {
		putF32(buf[8*i:], float32(real(s)))
		putF32(buf[8*i+4:], float32(imag(s)))
	}
	rb.Write(buf)
}

func putF32(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}

func TestPeakMeterEmitsObservedMax(t *testing.T) {
	rb := ring.New(1<<16, 4096)
	pm := NewPeakMeter(rb, 20*time.Millisecond, nil)
	defer pm.Stop()

	ch, cancel := pm.Subscribe()
	defer cancel()

	writeComplex64(rb, []complex64{complex(0.5, -0.75), complex(0.1, 0.2)})

	select {
	case snap := <-ch:
		if snap.Count == 0 {
			t.Fatalf("snapshot count = 0, want > 0")
		}
		if snap.Slipped {
			t.Fatalf("snapshot reported a slip unexpectedly")
		}
		// Largest |I| or |Q| written is 0.75.
		if want := 20 * math.Log10(0.75); math.Abs(snap.PeakDB-want) > 1e-4 {
			t.Fatalf("snapshot peak = %.4f dB, want %.4f dB", snap.PeakDB, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a PeakSnapshot")
	}
}

func TestPeakMeterStopClosesDonec(t *testing.T) {
	rb := ring.New(1<<16, 4096)
	pm := NewPeakMeter(rb, time.Hour, nil)
	done := make(chan struct{})
	go func() {
		pm.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
