package control

import (
	"fmt"
	"net/http"
	"strconv"
)

type freqHandler struct{ s *Server }

func newFreqHandler(s *Server) http.Handler { return &freqHandler{s} }

func (h *freqHandler) handlePut(w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return badRequest(err)
	}
	hz, err := strconv.ParseFloat(body, 64)
	if err != nil {
		return badRequest(fmt.Errorf("invalid frequency %q", body))
	}
	if err := h.s.engine.SetFrequency(uint64(hz)); err != nil {
		return badRequest(err)
	}
	_, err = w.Write([]byte("OK"))
	return err
}

func (h *freqHandler) handleGet(w http.ResponseWriter, r *http.Request) error {
	snap := h.s.engine.CurrentSnapshot()
	_, err := fmt.Fprintf(w, "%d\n", snap.CenterHz)
	return err
}

func (h *freqHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
