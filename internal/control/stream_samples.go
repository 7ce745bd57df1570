package control

import (
	"fmt"
	"net/http"
	"time"

	"github.com/chzchzchz/soapyfile/internal/container"
	"github.com/chzchzchz/soapyfile/internal/ring"
	"github.com/chzchzchz/soapyfile/internal/sink"
)

// sampleStreamHandler serves one connected HTTP Stream Sink per request:
// a chunked WAV response encoded to enc, headed with a "streaming" sized
// header (0xFFFFFFFF size fields) since the final length is never known in
// advance.
type sampleStreamHandler struct {
	s   *Server
	enc container.Encoding
}

func newSampleStreamHandler(s *Server, enc container.Encoding) http.Handler {
	return &sampleStreamHandler{s: s, enc: enc}
}

func (h *sampleStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap := h.s.engine.CurrentSnapshot()
	aux := container.Auxi{
		Start:        container.Now(),
		CenterFreqHz: uint32(snap.CenterHz),
		SampleRateHz: snap.SampleRate,
		BandwidthHz:  snap.SampleRate,
		MaxVal:       maxValFor(h.enc),
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.Header().Set("Content-Disposition", fmt.Sprintf(
		`inline; filename="%d_%d_%s.wav"`, snap.CenterHz, snap.SampleRate, time.Now().Format("20060102150405")))

	if _, err := container.WriteHeader(w, container.KindWAV32, h.enc, snap.SampleRate, aux, 0, true); err != nil {
		return
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	fr := sink.NewFrameReader(h.s.rb, 1<<16)
	defer fr.Close()

	flusher, _ := w.(http.Flusher)
	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		default:
		}

		samples, slipped, err := fr.Next()
		if err == ring.ErrClosed {
			return
		}
		if err != nil {
			return
		}
		if slipped {
			// Sink terminates the response on slip rather than resuming
			// with a gap in the sample stream.
			panic(http.ErrAbortHandler)
		}

		var werr error
		switch h.enc {
		case container.EncodingF32:
			_, werr = container.EncodeF32(w, samples)
		case container.EncodingS16:
			_, werr = container.EncodeS16(w, samples)
		}
		if werr != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func maxValFor(enc container.Encoding) int32 {
	if enc == container.EncodingS16 {
		return 32767
	}
	return 1
}

// cf32StreamHandler serves /cf32: the ring's canonical wire format already
// is raw interleaved f32 I/Q, so bytes are proxied through unconverted.
type cf32StreamHandler struct{ s *Server }

func newCF32StreamHandler(s *Server) http.Handler { return &cf32StreamHandler{s} }

func (h *cf32StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap := h.s.engine.CurrentSnapshot()
	w.Header().Set("Content-Type", "audio/cf32")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.Header().Set("Content-Disposition", fmt.Sprintf(
		`inline; filename="%d_%d_%s.cf32"`, snap.CenterHz, snap.SampleRate, time.Now().Format("20060102150405")))

	handle := h.s.rb.Subscribe()
	defer h.s.rb.Unsubscribe(handle)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 1<<16)
	done := r.Context().Done()
	before := handle.Slips()
	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := h.s.rb.Read(handle, buf)
		if err == ring.ErrClosed {
			return
		}
		if err != nil {
			return
		}
		if handle.Slips() != before {
			panic(http.ErrAbortHandler)
		}
		if _, werr := w.Write(buf[:n]); werr != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
