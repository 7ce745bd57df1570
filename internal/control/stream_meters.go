package control

import (
	"fmt"
	"net/http"
)

type peakStreamHandler struct{ s *Server }

func newPeakStreamHandler(s *Server) http.Handler { return &peakStreamHandler{s} }

func (h *peakStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.s.peak == nil {
		writeError(w, serviceUnavailable(fmt.Errorf("peak meter not running")))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Transfer-Encoding", "chunked")

	ch, cancel := h.s.peak.Subscribe()
	defer cancel()

	flusher, _ := w.(http.Flusher)
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintln(w, snap.Line()); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

type powerStreamHandler struct{ s *Server }

func newPowerStreamHandler(s *Server) http.Handler { return &powerStreamHandler{s} }

func (h *powerStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.s.power == nil {
		writeError(w, serviceUnavailable(fmt.Errorf("power meter not running")))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Transfer-Encoding", "chunked")

	ch, cancel := h.s.power.Subscribe()
	defer cancel()

	flusher, _ := w.(http.Flusher)
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintln(w, snap.Line()); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
