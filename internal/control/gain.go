package control

import (
	"fmt"
	"net/http"
	"strconv"
)

type gainHandler struct{ s *Server }

func newGainHandler(s *Server) http.Handler { return &gainHandler{s} }

func (h *gainHandler) handlePut(w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return badRequest(err)
	}
	db, err := strconv.ParseFloat(body, 64)
	if err != nil {
		return badRequest(fmt.Errorf("invalid gain %q", body))
	}
	if err := h.s.engine.SetGain(db); err != nil {
		return badRequest(err)
	}
	_, err = w.Write([]byte("OK"))
	return err
}

func (h *gainHandler) handleGet(w http.ResponseWriter, r *http.Request) error {
	snap := h.s.engine.CurrentSnapshot()
	_, err := fmt.Fprintf(w, "%.2f\n", snap.GainDB)
	return err
}

func (h *gainHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
