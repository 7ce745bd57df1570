// Package capture implements the Capture Engine: the single goroutine that
// owns the Device Façade and the Ring Buffer, reads sample frames, and
// applies reconfiguration commands posted to its mailbox.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chzchzchz/soapyfile/internal/radio"
	"github.com/chzchzchz/soapyfile/internal/ring"
)

var (
	ErrRecordingOpen = errors.New("capture: recording session is open")
	ErrNoRecorder    = errors.New("capture: no recorder configured")
	ErrShuttingDown  = errors.New("capture: engine is shutting down")
)

// RecordingSpec carries the session parameters posted by OpenRecording.
type RecordingSpec struct {
	Output      string
	NoTimestamp bool
	Kind        string // "wav32", "rf64", "cf32"
	Encoding    string // "f32", "s16"

	// SessionID is assigned by the engine at open time, not by the caller.
	SessionID string
}

// Recorder is the File Writer's contract as seen by the engine. The engine
// drives session open/close and rejects SetRate while a session is open;
// the recorder itself owns the file handle and pulls samples from the ring
// on its own goroutine like any other sink.
type Recorder interface {
	Open(spec RecordingSpec, snap radio.Snapshot, opened time.Time) error
	Close() error
	IsOpen() bool
}

type commandKind int

const (
	cmdSetFrequency commandKind = iota
	cmdSetGain
	cmdSetAGC
	cmdSetSetting
	cmdSetRate
	cmdOpenRecording
	cmdCloseRecording
	cmdQuit
)

type command struct {
	kind        commandKind
	u64         uint64
	f64         float64
	b           bool
	name, value string
	spec        RecordingSpec
	result      chan error
}

const mailboxDepth = 8

// defaultFrameSize is the producer loop's scratch-buffer size, in samples,
// when the caller does not bound it to a configured packet size.
const defaultFrameSize = 4096

// Engine is the Capture Engine.
type Engine struct {
	sdr    radio.SDR
	ring   *ring.Buffer
	rec    Recorder
	log    *zap.Logger
	format radio.SampleFormat

	maxConsecutiveFailures int
	frameSize              int

	mailbox chan command
	quit    chan struct{}
	done    chan struct{}

	snap      atomic.Pointer[radio.Snapshot]
	lastPeak  atomic.Pointer[framePeak]
	sessionID atomic.Pointer[string]
	shutdown  atomic.Bool
}

type framePeak struct {
	At     time.Time
	PeakDB float64
}

// New constructs an Engine. rec may be nil if recording is not wired; in
// that case OpenRecording/CloseRecording always fail with ErrNoRecorder.
// frameSize bounds the producer loop's scratch read size, in samples; a
// value <= 0 falls back to defaultFrameSize.
func New(sdr radio.SDR, rb *ring.Buffer, rec Recorder, log *zap.Logger, format radio.SampleFormat, frameSize int) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if frameSize <= 0 {
		frameSize = defaultFrameSize
	}
	e := &Engine{
		sdr:                    sdr,
		ring:                   rb,
		rec:                    rec,
		log:                    log,
		format:                 format,
		maxConsecutiveFailures: 8,
		frameSize:              frameSize,
		mailbox:                make(chan command, mailboxDepth),
		quit:                   make(chan struct{}),
		done:                   make(chan struct{}),
	}
	e.publishSnapshot()
	return e
}

func (e *Engine) publishSnapshot() {
	snap := e.sdr.Snapshot()
	e.snap.Store(&snap)
}

// CurrentSnapshot returns the most recently published parameter state.
// Lock-free: callers never mutate the returned value.
func (e *Engine) CurrentSnapshot() radio.Snapshot {
	return *e.snap.Load()
}

// IsRecording reports whether a Recording Session is currently open.
func (e *Engine) IsRecording() bool {
	if e.rec == nil {
		return false
	}
	return e.rec.IsOpen()
}

// LastPeakDB returns the most recent per-frame peak computed by the run
// loop and when it was taken, or (0, zero time, false) if no frame has been
// read yet.
func (e *Engine) LastPeakDB() (float64, time.Time, bool) {
	p := e.lastPeak.Load()
	if p == nil {
		return 0, time.Time{}, false
	}
	return p.PeakDB, p.At, true
}

// Run starts the producer loop and blocks until ctx is cancelled, Quit is
// posted, or the device becomes unrecoverable.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	if err := e.sdr.StartStream(e.format); err != nil {
		return fmt.Errorf("capture: start stream: %w", err)
	}

	scratch := make([]complex64, e.frameSize)

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return ctx.Err()
		case <-e.quit:
			e.teardown()
			return nil
		case cmd := <-e.mailbox:
			e.handleCommand(cmd)
			continue
		default:
		}

		n, overflow, err := e.sdr.Read(scratch)
		if err != nil {
			consecutiveFailures++
			e.log.Warn("device read failed",
				zap.Error(err), zap.Int("consecutive_failures", consecutiveFailures))
			if consecutiveFailures >= e.maxConsecutiveFailures {
				e.teardown()
				return fmt.Errorf("capture: too many consecutive read failures: %w", err)
			}
			continue
		}
		consecutiveFailures = 0
		if n == 0 {
			continue
		}
		frame := scratch[:n]

		peak := framePeakDB(frame)
		e.lastPeak.Store(&framePeak{At: nowFunc(), PeakDB: peak})

		e.publish(frame)

		if overflow {
			e.log.Debug("device reported overflow", zap.Uint64("overflow_total", e.sdr.OverflowTotal()))
		}
	}
}

// publish encodes frame as little-endian interleaved f32 I/Q (the ring's
// canonical wire representation; quantization to other encodings is a
// sink-side affair per the container package) and commits it to the ring,
// reserving twice if the write straddles the wrap point.
func (e *Engine) publish(frame []complex64) {
	raw := encodeF32(frame)
	for len(raw) > 0 {
		dst := e.ring.Reserve(len(raw))
		if len(dst) == 0 {
			break
		}
		n := copy(dst, raw)
		e.ring.Commit(n)
		raw = raw[n:]
	}
}

func encodeF32(samples []complex64) []byte {
	buf := make([]byte, 8*len(samples))
	for i, s := range samples {
		putFloat32(buf[8*i:], real(s))
		putFloat32(buf[8*i+4:], imag(s))
	}
	return buf
}

func putFloat32(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}

func framePeakDB(frame []complex64) float64 {
	var peak float32
	for _, s := range frame {
		if a := absf(real(s)); a > peak {
			peak = a
		}
		if a := absf(imag(s)); a > peak {
			peak = a
		}
	}
	if peak <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(float64(peak))
}

func absf(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

func (e *Engine) teardown() {
	e.shutdown.Store(true)
	if e.rec != nil && e.rec.IsOpen() {
		if err := e.rec.Close(); err != nil {
			e.log.Warn("closing recording session during teardown", zap.Error(err))
		}
	}
	if err := e.sdr.StopStream(); err != nil {
		e.log.Warn("stopping stream during teardown", zap.Error(err))
	}
	e.ring.Close()
}

// Wait blocks until Run has returned.
func (e *Engine) Wait() { <-e.done }

func (e *Engine) post(cmd command) error {
	if e.shutdown.Load() {
		return ErrShuttingDown
	}
	cmd.result = make(chan error, 1)
	select {
	case e.mailbox <- cmd:
	case <-e.done:
		return ErrShuttingDown
	}
	select {
	case err := <-cmd.result:
		return err
	case <-e.done:
		return ErrShuttingDown
	}
}

func (e *Engine) handleCommand(cmd command) {
	var err error
	switch cmd.kind {
	case cmdSetFrequency:
		err = e.sdr.SetFrequency(cmd.u64)
	case cmdSetGain:
		err = e.sdr.SetGain(cmd.f64)
	case cmdSetAGC:
		err = e.sdr.SetAGC(cmd.b)
	case cmdSetSetting:
		err = e.sdr.SetSetting(cmd.name, cmd.value)
	case cmdSetRate:
		err = e.applySetRate(uint32(cmd.u64))
	case cmdOpenRecording:
		err = e.applyOpenRecording(cmd.spec)
	case cmdCloseRecording:
		err = e.applyCloseRecording()
	case cmdQuit:
		close(e.quit)
	}
	if err == nil {
		e.publishSnapshot()
	}
	cmd.result <- err
}

func (e *Engine) applySetRate(hz uint32) error {
	if e.rec != nil && e.rec.IsOpen() {
		return ErrRecordingOpen
	}
	if err := e.sdr.StopStream(); err != nil {
		return fmt.Errorf("capture: stop stream for rate change: %w", err)
	}
	if err := e.sdr.SetSampleRate(hz); err != nil {
		// Best effort: try to resume streaming at the old rate so capture
		// does not wedge on a rejected rate.
		_ = e.sdr.StartStream(e.format)
		return err
	}
	return e.sdr.StartStream(e.format)
}

func (e *Engine) applyOpenRecording(spec RecordingSpec) error {
	if e.rec == nil {
		return ErrNoRecorder
	}
	if e.rec.IsOpen() {
		return ErrRecordingOpen
	}
	id := uuid.NewString()
	spec.SessionID = id
	if err := e.rec.Open(spec, e.sdr.Snapshot(), nowFunc()); err != nil {
		return err
	}
	e.sessionID.Store(&id)
	return nil
}

func (e *Engine) applyCloseRecording() error {
	if e.rec == nil {
		return ErrNoRecorder
	}
	if !e.rec.IsOpen() {
		return nil
	}
	if err := e.rec.Close(); err != nil {
		return err
	}
	e.sessionID.Store(nil)
	return nil
}

// SessionID returns the UUID of the currently open Recording Session, if
// any.
func (e *Engine) SessionID() (string, bool) {
	p := e.sessionID.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// SetFrequency posts a center-frequency change and waits for it to apply.
func (e *Engine) SetFrequency(hz uint64) error {
	return e.post(command{kind: cmdSetFrequency, u64: hz})
}

// SetGain posts a gain change in dB.
func (e *Engine) SetGain(db float64) error {
	return e.post(command{kind: cmdSetGain, f64: db})
}

// SetAGC toggles automatic gain control.
func (e *Engine) SetAGC(on bool) error {
	return e.post(command{kind: cmdSetAGC, b: on})
}

// SetNamedSetting posts a driver-specific named setting change.
func (e *Engine) SetNamedSetting(name, value string) error {
	return e.post(command{kind: cmdSetSetting, name: name, value: value})
}

// SetRate posts a sample-rate change; rejected with ErrRecordingOpen if a
// Recording Session is currently open.
func (e *Engine) SetRate(hz uint32) error {
	return e.post(command{kind: cmdSetRate, u64: uint64(hz)})
}

// OpenRecording posts a request to start a new Recording Session.
func (e *Engine) OpenRecording(spec RecordingSpec) error {
	return e.post(command{kind: cmdOpenRecording, spec: spec})
}

// CloseRecording posts a request to end the active Recording Session, if
// any.
func (e *Engine) CloseRecording() error {
	return e.post(command{kind: cmdCloseRecording})
}

// Quit breaks the run loop and tears down the device and ring.
func (e *Engine) Quit() error {
	return e.post(command{kind: cmdQuit})
}

// nowFunc is a seam for tests; production code always uses time.Now.
var nowFunc = time.Now
