package control

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/chzchzchz/soapyfile/internal/capture"
)

type rateHandler struct{ s *Server }

func newRateHandler(s *Server) http.Handler { return &rateHandler{s} }

func (h *rateHandler) handlePut(w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return badRequest(err)
	}
	hz, err := strconv.ParseFloat(body, 64)
	if err != nil {
		return badRequest(fmt.Errorf("invalid rate %q", body))
	}
	if err := h.s.engine.SetRate(uint32(hz)); err != nil {
		if errors.Is(err, capture.ErrRecordingOpen) {
			return badRequest(fmt.Errorf("cannot change rate while a recording session is open"))
		}
		return badRequest(err)
	}
	_, err = w.Write([]byte("OK"))
	return err
}

func (h *rateHandler) handleGet(w http.ResponseWriter, r *http.Request) error {
	snap := h.s.engine.CurrentSnapshot()
	_, err := fmt.Fprintf(w, "%d\n", snap.SampleRate)
	return err
}

func (h *rateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.Method {
	case http.MethodPut:
		err = h.handlePut(w, r)
	case http.MethodGet:
		err = h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		writeError(w, err)
	}
}
