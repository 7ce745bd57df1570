// Package fake provides a hermetic radio.SDR implementation for tests
// that would otherwise need a live rtl_tcp dongle.
package fake

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/chzchzchz/soapyfile/internal/radio"
)

// SDR is a synthetic Device Façade backend. Read produces a deterministic
// tone so tests can assert on exact sample values; callers that need to
// exercise slow/stalled-consumer behavior can wrap Read with their own
// pacing.
type SDR struct {
	mu        sync.Mutex
	freq      uint64
	rate      uint32
	gain      float64
	agc       bool
	settings  map[string]string
	streaming bool
	closed    bool
	phase     float64

	overflow     atomic.Uint64
	ForceOverflow bool

	ReadErr error
}

func New() *SDR {
	return &SDR{settings: make(map[string]string), rate: 1024000}
}

func (s *SDR) SetFrequency(hz uint64) error {
	if hz == 0 {
		return radio.ErrFrequencyOutOfRange
	}
	s.mu.Lock()
	s.freq = hz
	s.mu.Unlock()
	return nil
}

func (s *SDR) Frequency() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freq
}

func (s *SDR) SetSampleRate(hz uint32) error {
	if hz == 0 {
		return radio.ErrRateOutOfRange
	}
	s.mu.Lock()
	s.rate = hz
	s.mu.Unlock()
	return nil
}

func (s *SDR) SampleRate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *SDR) SetGain(db float64) error {
	s.mu.Lock()
	s.gain = db
	s.mu.Unlock()
	return nil
}

func (s *SDR) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

func (s *SDR) SetAGC(on bool) error {
	s.mu.Lock()
	s.agc = on
	s.mu.Unlock()
	return nil
}

func (s *SDR) AGC() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agc
}

func (s *SDR) SetSetting(name, value string) error {
	s.mu.Lock()
	s.settings[name] = value
	s.mu.Unlock()
	return nil
}

func (s *SDR) Setting(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[name]
	return v, ok
}

func (s *SDR) Settings() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out
}

func (s *SDR) StartStream(radio.SampleFormat) error {
	s.mu.Lock()
	s.streaming = true
	s.mu.Unlock()
	return nil
}

func (s *SDR) StopStream() error {
	s.mu.Lock()
	s.streaming = false
	s.mu.Unlock()
	return nil
}

func (s *SDR) Read(buf []complex64) (int, bool, error) {
	if s.ReadErr != nil {
		return 0, false, s.ReadErr
	}
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return 0, false, radio.ErrNotStreaming
	}
	phase := s.phase
	s.phase += float64(len(buf)) * 0.01
	s.mu.Unlock()

	for i := range buf {
		p := phase + float64(i)*0.01
		buf[i] = complex(float32(math.Cos(p)), float32(math.Sin(p)))
	}
	if s.ForceOverflow {
		s.overflow.Add(1)
		return len(buf), true, nil
	}
	return len(buf), false, nil
}

func (s *SDR) OverflowTotal() uint64 { return s.overflow.Load() }

func (s *SDR) Info() radio.HWInfo {
	return radio.HWInfo{ID: "fake", MinHz: 1, MaxHz: 6000000000, MinSampleRate: 225000, MaxSampleRate: 3200000, MaxGainDB: 49.6}
}

func (s *SDR) Snapshot() radio.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		settings[k] = v
	}
	return radio.Snapshot{CenterHz: s.freq, SampleRate: s.rate, GainDB: s.gain, AGC: s.agc, Settings: settings}
}

func (s *SDR) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *SDR) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
