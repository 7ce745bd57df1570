package sink

import (
	"testing"
	"time"

	"github.com/chzchzchz/soapyfile/internal/ring"
)

func TestPowerMeterEmitsOneLinePerIntegrationFlush(t *testing.T) {
	rb := ring.New(1<<18, 4096)
	pm := NewPowerMeter(rb, PowerMeterConfig{
		Bins:        64,
		CenterHz:    433920000,
		SampleRate:  250000,
		Integration: 10 * time.Millisecond,
	}, nil)
	defer pm.Stop()

	ch, cancel := pm.Subscribe()
	defer cancel()

	samples := make([]complex64, 64)
	for i := range samples {
		samples[i] = complex(0.1, -0.1)
	}
	for i := 0; i < 4; i++ {
		writeComplex64(rb, samples)
	}

	select {
	case snap := <-ch:
		if len(snap.DB) != 64 {
			t.Fatalf("len(DB) = %d, want 64", len(snap.DB))
		}
		if snap.NSamp <= 0 {
			t.Fatalf("NSamp = %d, want > 0", snap.NSamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a PowerSnapshot")
	}
}

func TestPowerSnapshotLineFormat(t *testing.T) {
	snap := PowerSnapshot{
		At:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		FLoHz: 433000000, FHiHz: 434000000, BinHz: 1000, NSamp: 8,
		DB: []float64{-10.5, -20.25},
	}
	line := snap.Line()
	want := "2026-01-02, 03:04:05, 433000000.0, 434000000.0, 1000.00, 8, -10.50, -20.25"
	if line != want {
		t.Fatalf("Line() = %q, want %q", line, want)
	}
}
