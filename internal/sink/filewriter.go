package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chzchzchz/soapyfile/internal/capture"
	"github.com/chzchzchz/soapyfile/internal/container"
	"github.com/chzchzchz/soapyfile/internal/radio"
	"github.com/chzchzchz/soapyfile/internal/ring"
)

const flushInterval = time.Second

// FileWriter is the File Writer sink: it owns at most one open Recording
// Session at a time and implements capture.Recorder so the engine can
// drive session lifecycle. It runs its own goroutine pulling from the ring
// for the life of the process, discarding samples whenever no session is
// open.
type FileWriter struct {
	log *zap.Logger
	fr  *FrameReader

	mu         sync.Mutex
	f          *os.File
	path       string
	kind       container.Kind
	enc        container.Encoding
	offsets    container.Offsets
	sampleRate uint32
	aux        container.Auxi
	written    uint64
	lastFlush  time.Time

	stopc chan struct{}
	donec chan struct{}
}

// NewFileWriter constructs a File Writer subscribed to rb and starts its
// pull loop.
func NewFileWriter(rb *ring.Buffer, log *zap.Logger) *FileWriter {
	if log == nil {
		log = zap.NewNop()
	}
	fw := &FileWriter{
		log:   log,
		fr:    NewFrameReader(rb, 1<<16),
		stopc: make(chan struct{}),
		donec: make(chan struct{}),
	}
	go fw.run()
	return fw
}

// Stop ends the pull loop and, if a session is open, closes it.
func (fw *FileWriter) Stop() {
	close(fw.stopc)
	<-fw.donec
	fw.fr.Close()
	if err := fw.Close(); err != nil {
		fw.log.Warn("closing recording session on stop", zap.Error(err))
	}
}

func (fw *FileWriter) run() {
	defer close(fw.donec)
	for {
		select {
		case <-fw.stopc:
			return
		default:
		}
		samples, slipped, err := fw.fr.Next()
		if err == ring.ErrClosed {
			return
		}
		if err != nil {
			fw.log.Warn("file writer ring read failed", zap.Error(err))
			return
		}

		fw.mu.Lock()
		if fw.f == nil {
			fw.mu.Unlock()
			continue
		}
		if slipped {
			fw.log.Warn("file writer sink slipped; samples were dropped", zap.String("path", fw.path))
		}
		if err := fw.writeLocked(samples); err != nil {
			fw.log.Error("file writer: write failed, closing session", zap.Error(err), zap.String("path", fw.path))
			fw.closeLocked()
		}
		fw.mu.Unlock()
	}
}

func (fw *FileWriter) writeLocked(samples []complex64) error {
	var n int
	var err error
	switch fw.enc {
	case container.EncodingF32:
		n, err = container.EncodeF32(fw.f, samples)
	case container.EncodingS16:
		n, err = container.EncodeS16(fw.f, samples)
	}
	if err != nil {
		return err
	}
	fw.written += uint64(n)

	if time.Since(fw.lastFlush) >= flushInterval {
		if err := container.PatchSizes(fw.f, fw.kind, fw.enc, fw.offsets, fw.written); err != nil {
			return fmt.Errorf("filewriter: patch sizes: %w", err)
		}
		if _, err := fw.f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("filewriter: seek to end after patch: %w", err)
		}
		fw.lastFlush = nowFunc()
	}
	return nil
}

// Open starts a new Recording Session per spec, writing the initial
// container header and recording an auxi snapshot of the radio state at
// open time.
func (fw *FileWriter) Open(spec capture.RecordingSpec, snap radio.Snapshot, opened time.Time) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.f != nil {
		return capture.ErrRecordingOpen
	}

	kind, err := parseKind(spec.Kind)
	if err != nil {
		return err
	}
	enc, err := parseEncoding(spec.Encoding)
	if err != nil {
		return err
	}
	if err := container.ValidateKindEncoding(kind, enc, snap.SampleRate); err != nil {
		return err
	}

	path := buildPath(spec, kind, snap, opened)
	flags := os.O_CREATE | os.O_WRONLY
	if spec.NoTimestamp {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("filewriter: open %s: %w", path, err)
	}

	aux := container.Auxi{
		Start:        container.Now(),
		CenterFreqHz: uint32(snap.CenterHz),
		SampleRateHz: snap.SampleRate,
		BandwidthHz:  snap.SampleRate,
		MaxVal:       maxValFor(enc),
	}
	offsets, err := container.WriteHeader(f, kind, enc, snap.SampleRate, aux, 0, false)
	if err != nil {
		f.Close()
		return fmt.Errorf("filewriter: write header: %w", err)
	}

	fw.f = f
	fw.path = path
	fw.kind = kind
	fw.enc = enc
	fw.offsets = offsets
	fw.sampleRate = snap.SampleRate
	fw.aux = aux
	fw.written = 0
	fw.lastFlush = opened
	fw.log.Info("recording session opened",
		zap.String("path", path), zap.String("kind", spec.Kind), zap.String("session_id", spec.SessionID))
	return nil
}

func maxValFor(enc container.Encoding) int32 {
	if enc == container.EncodingS16 {
		return 32767
	}
	return 1
}

// Close finalizes the active session's container trailers and, for a
// WAV32 session that outgrew the 32-bit size fields, promotes it to RF64
// via a post-close rewrite.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.closeLocked()
}

func (fw *FileWriter) closeLocked() error {
	if fw.f == nil {
		return nil
	}
	stop := container.Now()
	if err := container.PatchAuxiStop(fw.f, fw.offsets, stop); err != nil {
		fw.log.Warn("patching auxi stop time", zap.Error(err))
	}
	if err := container.PatchSizes(fw.f, fw.kind, fw.enc, fw.offsets, fw.written); err != nil {
		fw.log.Warn("patching final sizes", zap.Error(err))
	}

	path, kind, enc, sampleRate, aux, written, dataStart := fw.path, fw.kind, fw.enc, fw.sampleRate, fw.aux, fw.written, fw.offsets.DataStart
	if err := fw.f.Close(); err != nil {
		fw.f = nil
		return fmt.Errorf("filewriter: close: %w", err)
	}
	fw.f = nil
	fw.log.Info("recording session closed", zap.String("path", path), zap.Uint64("bytes", written))

	if kind == container.KindWAV32 && container.ExceedsWAV32Limit(written) {
		if err := promoteToRF64(path, enc, sampleRate, aux, written, dataStart); err != nil {
			fw.log.Error("promoting session to RF64 failed", zap.Error(err), zap.String("path", path))
		} else {
			fw.log.Info("promoted oversized WAV32 session to RF64", zap.String("path", path))
		}
	}
	return nil
}

// IsOpen reports whether a Recording Session is currently active.
func (fw *FileWriter) IsOpen() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.f != nil
}

// promoteToRF64 rewrites a closed WAV32 file as RF64: a fresh RF64 header
// followed by the original raw sample payload, copied byte-for-byte.
func promoteToRF64(path string, enc container.Encoding, sampleRate uint32, aux container.Auxi, written uint64, oldDataStart int64) error {
	orig, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rf64 promotion: open original: %w", err)
	}
	defer orig.Close()

	tmpPath := path + ".rf64"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("rf64 promotion: create temp: %w", err)
	}
	if _, err := container.WriteHeader(tmp, container.KindRF64, enc, sampleRate, aux, written, false); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("rf64 promotion: write header: %w", err)
	}
	if _, err := orig.Seek(oldDataStart, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("rf64 promotion: seek payload: %w", err)
	}
	if _, err := io.Copy(tmp, orig); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("rf64 promotion: copy payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rf64 promotion: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rf64 promotion: rename: %w", err)
	}
	return nil
}

func parseKind(s string) (container.Kind, error) {
	switch s {
	case "", "wav32":
		return container.KindWAV32, nil
	case "rf64":
		return container.KindRF64, nil
	case "cf32":
		return container.KindCF32Raw, nil
	default:
		return 0, fmt.Errorf("filewriter: unknown container kind %q", s)
	}
}

func parseEncoding(s string) (container.Encoding, error) {
	switch s {
	case "", "f32":
		return container.EncodingF32, nil
	case "s16":
		return container.EncodingS16, nil
	default:
		return 0, fmt.Errorf("filewriter: unknown encoding %q", s)
	}
}

// buildPath composes the output filename per the naming convention
// <output>[_<freq>_<rate>_<YYYYMMDDhhmmss>].<ext>; --notimestamp omits the
// suffix entirely and reuses the bare output path across sessions.
func buildPath(spec capture.RecordingSpec, kind container.Kind, snap radio.Snapshot, opened time.Time) string {
	if spec.NoTimestamp {
		if filepath.Ext(spec.Output) != "" {
			return spec.Output
		}
		return spec.Output + "." + kind.Ext()
	}
	stamp := opened.Format("20060102150405")
	return fmt.Sprintf("%s_%d_%d_%s.%s", spec.Output, snap.CenterHz, snap.SampleRate, stamp, kind.Ext())
}

var nowFunc = time.Now
