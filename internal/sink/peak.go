package sink

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chzchzchz/soapyfile/internal/ring"
)

// PeakSnapshot is a single (timestamp, peak dBFS, sample count) triplet as
// emitted by the Peak Meter at each refresh tick.
type PeakSnapshot struct {
	At      time.Time
	PeakDB  float64
	Count   uint64
	Slipped bool
}

// PeakMeter maintains a rolling maximum of |I|, |Q| across samples pulled
// from the ring and emits one PeakSnapshot per refresh interval to any
// subscribed listeners (console printer, /peak HTTP readers). The refresh
// tick is checked only after a ring read returns, so a snapshot goes out
// only while samples keep arriving; when the stream stalls, nothing is
// emitted until more samples come in.
type PeakMeter struct {
	log      *zap.Logger
	fr       *FrameReader
	interval time.Duration

	mu        sync.Mutex
	listeners map[int]chan PeakSnapshot
	nextID    int

	stopc chan struct{}
	donec chan struct{}
}

// NewPeakMeter subscribes a Peak Meter to rb, refreshing at the given
// interval (the spec's default is 1-2s).
func NewPeakMeter(rb *ring.Buffer, interval time.Duration, log *zap.Logger) *PeakMeter {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	pm := &PeakMeter{
		log:       log,
		fr:        NewFrameReader(rb, 1<<15),
		interval:  interval,
		listeners: make(map[int]chan PeakSnapshot),
		stopc:     make(chan struct{}),
		donec:     make(chan struct{}),
	}
	go pm.run()
	return pm
}

// Subscribe registers a channel that receives every PeakSnapshot emitted
// from now on. The returned cancel func unsubscribes and closes nothing
// else; callers must drain or discard the channel after cancelling.
func (pm *PeakMeter) Subscribe() (<-chan PeakSnapshot, func()) {
	pm.mu.Lock()
	id := pm.nextID
	pm.nextID++
	ch := make(chan PeakSnapshot, 4)
	pm.listeners[id] = ch
	pm.mu.Unlock()
	return ch, func() {
		pm.mu.Lock()
		delete(pm.listeners, id)
		pm.mu.Unlock()
	}
}

// Stop ends the pull loop.
func (pm *PeakMeter) Stop() {
	close(pm.stopc)
	<-pm.donec
	pm.fr.Close()
}

func (pm *PeakMeter) run() {
	defer close(pm.donec)
	var peak float32
	var count uint64
	var slipped bool
	tick := time.NewTicker(pm.interval)
	defer tick.Stop()

	for {
		select {
		case <-pm.stopc:
			return
		default:
		}

		samples, didSlip, err := pm.fr.Next()
		if err == ring.ErrClosed {
			pm.emit(peak, count, slipped)
			return
		}
		if err != nil {
			pm.log.Warn("peak meter ring read failed", zap.Error(err))
			return
		}
		if didSlip {
			slipped = true
		}
		for _, s := range samples {
			if a := absf(real(s)); a > peak {
				peak = a
			}
			if a := absf(imag(s)); a > peak {
				peak = a
			}
		}
		count += uint64(len(samples))

		select {
		case <-tick.C:
			pm.emit(peak, count, slipped)
			peak, count, slipped = 0, 0, false
		default:
		}
	}
}

func (pm *PeakMeter) emit(peak float32, count uint64, slipped bool) {
	db := math.Inf(-1)
	if peak > 0 {
		db = 20 * math.Log10(float64(peak))
	}
	snap := PeakSnapshot{At: nowFunc(), PeakDB: db, Count: count, Slipped: slipped}
	pm.mu.Lock()
	for _, ch := range pm.listeners {
		select {
		case ch <- snap:
		default:
		}
	}
	pm.mu.Unlock()
}

func absf(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

// Line renders a PeakSnapshot in the console meter's one-line format.
func (s PeakSnapshot) Line() string {
	if s.Slipped {
		return fmt.Sprintf("%.2f dB (slip)", s.PeakDB)
	}
	return fmt.Sprintf("%.2f dB", s.PeakDB)
}
