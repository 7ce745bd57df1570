// Package control implements the Control Plane: a minimal REST server that
// mutates and inspects the Capture Engine's parameter state and exposes
// the ring buffer's live sample and measurement streams, one handler per
// endpoint group in the teacher's sdrproxy/http style.
package control

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chzchzchz/soapyfile/internal/capture"
	"github.com/chzchzchz/soapyfile/internal/container"
	"github.com/chzchzchz/soapyfile/internal/ring"
	"github.com/chzchzchz/soapyfile/internal/sink"
)

// Server is the Control Plane: it owns nothing about capture itself, only
// references to the Capture Engine, the ring it can hand out new readers
// on, and the long-running Peak/Power Meters.
type Server struct {
	addr   string
	engine *capture.Engine
	rb     *ring.Buffer
	peak   *sink.PeakMeter
	power  *sink.PowerMeter
	log    *zap.Logger

	recTemplate capture.RecordingSpec

	mux    *http.ServeMux
	server *http.Server
}

// Config collects everything the Control Plane needs beyond the engine and
// ring it always requires.
type Config struct {
	Addr        string
	RecTemplate capture.RecordingSpec
	IdleTimeout time.Duration
}

// New builds a Server and wires its route table.
func New(engine *capture.Engine, rb *ring.Buffer, peak *sink.PeakMeter, power *sink.PowerMeter, cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}

	s := &Server{
		addr:        cfg.Addr,
		engine:      engine,
		rb:          rb,
		peak:        peak,
		power:       power,
		log:         log,
		recTemplate: cfg.RecTemplate,
		mux:         http.NewServeMux(),
	}

	s.mux.Handle("/quit", newQuitHandler(s))
	s.mux.Handle("/rate", newRateHandler(s))
	s.mux.Handle("/frequency", newFreqHandler(s))
	s.mux.Handle("/gain", newGainHandler(s))
	s.mux.Handle("/agc", newAGCHandler(s))
	s.mux.Handle("/pause", newPauseHandler(s))
	s.mux.Handle("/setting", http.StripPrefix("/setting", newSettingHandler(s)))
	s.mux.Handle("/setting/", http.StripPrefix("/setting/", newSettingHandler(s)))
	s.mux.Handle("/peak", newPeakStreamHandler(s))
	s.mux.Handle("/ws/peak", newWSPeakHandler(s))
	s.mux.Handle("/power", newPowerStreamHandler(s))
	s.mux.Handle("/pcm", newSampleStreamHandler(s, container.EncodingS16))
	s.mux.Handle("/s16", newSampleStreamHandler(s, container.EncodingS16))
	s.mux.Handle("/float", newSampleStreamHandler(s, container.EncodingF32))
	s.mux.Handle("/f32", newSampleStreamHandler(s, container.EncodingF32))
	s.mux.Handle("/cf32", newCF32StreamHandler(s))

	s.server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.mux,
		IdleTimeout: idle,
	}
	return s
}

// Handler returns the Control Plane's route table, mainly so tests can
// drive it with httptest without binding a real listener.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the Control Plane's HTTP server and blocks until it
// exits (including on Shutdown from /quit).
func (s *Server) ListenAndServe() error {
	s.log.Info("control plane listening", zap.String("addr", s.addr))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server at once via http.Server.Close: listeners
// and all open connections are closed, so in-flight responses, including
// sample streams, end without a final chunk.
func (s *Server) Shutdown() error {
	return s.server.Close()
}
