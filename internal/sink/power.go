package sink

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/runningwild/go-fftw/fftw32"
	"go.uber.org/zap"

	"github.com/chzchzchz/soapyfile/internal/ring"
)

// PowerSnapshot is one rtl_power-format integration line.
type PowerSnapshot struct {
	At      time.Time
	FLoHz   float64
	FHiHz   float64
	BinHz   float64
	NSamp   int
	DB      []float64
	Slipped bool
}

// Line renders a PowerSnapshot as a single rtl_power text line:
// date, time, f_lo, f_hi, bin_hz, n_samples, db_0, db_1, ...
func (s PowerSnapshot) Line() string {
	line := fmt.Sprintf("%s, %s, %.1f, %.1f, %.2f, %d",
		s.At.Format("2006-01-02"), s.At.Format("15:04:05"), s.FLoHz, s.FHiHz, s.BinHz, s.NSamp)
	for _, db := range s.DB {
		line += fmt.Sprintf(", %.2f", db)
	}
	return line
}

// PowerMeter splits the stream into FFT windows, accumulates magnitude
// squared over an integration period, and emits one PowerSnapshot per
// interval. The FFT is fftshifted so index 0 is the lowest frequency bin.
// The flush condition is checked only after an FFT completes, so a snapshot
// goes out only while samples keep arriving; when the stream stalls, the
// partly integrated interval is held until more samples come in.
type PowerMeter struct {
	log  *zap.Logger
	fr   *FrameReader
	bins int

	centerHz   float64
	sampleRate float64

	integration time.Duration
	averageFFTs int

	mu        sync.Mutex
	listeners map[int]chan PowerSnapshot
	nextID    int

	stopc chan struct{}
	donec chan struct{}
}

// PowerMeterConfig configures a PowerMeter.
type PowerMeterConfig struct {
	Bins        int
	CenterHz    float64
	SampleRate  float64
	Integration time.Duration
	AverageFFTs int
}

// NewPowerMeter subscribes a Power Meter to rb.
func NewPowerMeter(rb *ring.Buffer, cfg PowerMeterConfig, log *zap.Logger) *PowerMeter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Bins <= 0 {
		cfg.Bins = 512
	}
	pm := &PowerMeter{
		log:         log,
		fr:          NewFrameReader(rb, cfg.Bins*8*4),
		bins:        cfg.Bins,
		centerHz:    cfg.CenterHz,
		sampleRate:  cfg.SampleRate,
		integration: cfg.Integration,
		averageFFTs: cfg.AverageFFTs,
		listeners:   make(map[int]chan PowerSnapshot),
		stopc:       make(chan struct{}),
		donec:       make(chan struct{}),
	}
	go pm.run()
	return pm
}

// Subscribe registers a channel that receives every PowerSnapshot emitted
// from now on.
func (pm *PowerMeter) Subscribe() (<-chan PowerSnapshot, func()) {
	pm.mu.Lock()
	id := pm.nextID
	pm.nextID++
	ch := make(chan PowerSnapshot, 2)
	pm.listeners[id] = ch
	pm.mu.Unlock()
	return ch, func() {
		pm.mu.Lock()
		delete(pm.listeners, id)
		pm.mu.Unlock()
	}
}

// Stop ends the pull loop.
func (pm *PowerMeter) Stop() {
	close(pm.stopc)
	<-pm.donec
	pm.fr.Close()
}

func (pm *PowerMeter) run() {
	defer close(pm.donec)

	arr := fftw32.NewArray(pm.bins)
	sum := make([]float64, pm.bins)
	var fftsDone int
	var samplesSeen int
	var slipped bool
	intervalStart := nowFunc()

	var window []complex64
	hann := hannWindow(pm.bins)

	flush := func() {
		if fftsDone == 0 {
			return
		}
		db := make([]float64, pm.bins)
		for i, v := range sum {
			p := v / float64(fftsDone)
			if p <= 0 {
				p = 1e-40
			}
			db[i] = 10 * math.Log10(p)
		}
		binHz := pm.sampleRate / float64(pm.bins)
		pm.emit(PowerSnapshot{
			At:      nowFunc(),
			FLoHz:   pm.centerHz - pm.sampleRate/2,
			FHiHz:   pm.centerHz + pm.sampleRate/2,
			BinHz:   binHz,
			NSamp:   samplesSeen,
			DB:      db,
			Slipped: slipped,
		})
		for i := range sum {
			sum[i] = 0
		}
		fftsDone, samplesSeen, slipped = 0, 0, false
		intervalStart = nowFunc()
	}

	wantFlush := func() bool {
		if pm.averageFFTs > 0 {
			return fftsDone >= pm.averageFFTs
		}
		if pm.integration > 0 {
			return time.Since(intervalStart) >= pm.integration
		}
		return fftsDone >= 1
	}

	for {
		select {
		case <-pm.stopc:
			return
		default:
		}

		samples, didSlip, err := pm.fr.Next()
		if err == ring.ErrClosed {
			flush()
			return
		}
		if err != nil {
			pm.log.Warn("power meter ring read failed", zap.Error(err))
			return
		}
		if didSlip {
			slipped = true
		}
		samplesSeen += len(samples)
		window = append(window, samples...)

		for len(window) >= pm.bins {
			chunk := window[:pm.bins]
			window = window[pm.bins:]

			windowed := make([]complex64, pm.bins)
			for i, s := range chunk {
				windowed[i] = complex(real(s)*hann[i], imag(s)*hann[i])
			}
			arr.Elems = windowed
			out := fftw32.FFT(arr)
			for i, v := range out.Elems {
				idx := fftshiftIndex(i, pm.bins)
				mag := cmplx.Abs(complex128(v))
				sum[idx] += mag * mag
			}
			fftsDone++
			if wantFlush() {
				flush()
			}
		}
	}
}

func fftshiftIndex(i, bins int) int {
	if i >= bins/2 {
		return i - bins/2
	}
	return i + bins/2
}

func hannWindow(n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

func (pm *PowerMeter) emit(snap PowerSnapshot) {
	pm.mu.Lock()
	for _, ch := range pm.listeners {
		select {
		case ch <- snap:
		default:
		}
	}
	pm.mu.Unlock()
}
