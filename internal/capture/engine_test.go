package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chzchzchz/soapyfile/internal/radio"
	"github.com/chzchzchz/soapyfile/internal/radio/fake"
	"github.com/chzchzchz/soapyfile/internal/ring"
)

type fakeRecorder struct {
	mu   sync.Mutex
	open bool
	spec RecordingSpec
}

func (r *fakeRecorder) Open(spec RecordingSpec, snap radio.Snapshot, opened time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
	r.spec = spec
	return nil
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}

func (r *fakeRecorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func newTestEngine(t *testing.T, rec Recorder) (*Engine, *fake.SDR, *ring.Buffer) {
	t.Helper()
	sdr := fake.New()
	rb := ring.New(1<<16, 4096)
	e := New(sdr, rb, rec, nil, radio.FormatCF32, 0)
	return e, sdr, rb
}

func TestEnginePublishesFramesToRing(t *testing.T) {
	e, _, rb := newTestEngine(t, nil)
	h := rb.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	buf := make([]byte, 4096)
	deadline := time.After(2 * time.Second)
	var total int
	for total == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for engine to publish any bytes")
		default:
		}
		n, err := rb.Read(h, buf)
		if err != nil {
			t.Fatalf("unexpected ring read error: %v", err)
		}
		total += n
	}

	cancel()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after context cancellation")
	}
}

func TestSetFrequencyUpdatesSnapshot(t *testing.T) {
	e, sdr, _ := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	if err := e.SetFrequency(433920000); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if got := sdr.Frequency(); got != 433920000 {
		t.Fatalf("device frequency = %d, want 433920000", got)
	}
	if got := e.CurrentSnapshot().CenterHz; got != 433920000 {
		t.Fatalf("snapshot frequency = %d, want 433920000", got)
	}
}

func TestSetRateRejectedWhileRecordingOpen(t *testing.T) {
	rec := &fakeRecorder{}
	e, _, _ := newTestEngine(t, rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	if err := e.OpenRecording(RecordingSpec{Output: "test", Kind: "wav32", Encoding: "f32"}); err != nil {
		t.Fatalf("OpenRecording: %v", err)
	}
	if err := e.SetRate(2048000); err != ErrRecordingOpen {
		t.Fatalf("SetRate while recording = %v, want ErrRecordingOpen", err)
	}
	if err := e.CloseRecording(); err != nil {
		t.Fatalf("CloseRecording: %v", err)
	}
	if err := e.SetRate(2048000); err != nil {
		t.Fatalf("SetRate after close: %v", err)
	}
}

func TestOpenRecordingWithoutRecorderFails(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	if err := e.OpenRecording(RecordingSpec{Output: "x"}); err != ErrNoRecorder {
		t.Fatalf("OpenRecording with nil recorder = %v, want ErrNoRecorder", err)
	}
}

func TestQuitStopsRunAndClosesRing(t *testing.T) {
	e, _, rb := newTestEngine(t, nil)
	h := rb.Subscribe()

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	if err := e.Quit(); err != nil {
		t.Fatalf("Quit: %v", err)
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned %v, want nil after Quit", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Quit")
	}

	buf := make([]byte, 16)
	for {
		_, err := rb.Read(h, buf)
		if err == ring.ErrClosed {
			break
		}
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
	}
}
