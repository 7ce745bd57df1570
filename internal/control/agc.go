package control

import (
	"fmt"
	"net/http"
)

type agcHandler struct{ s *Server }

func newAGCHandler(s *Server) http.Handler { return &agcHandler{s} }

func (h *agcHandler) handlePut(w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return badRequest(err)
	}
	on, err := parseBool(body)
	if err != nil {
		return badRequest(err)
	}
	if err := h.s.engine.SetAGC(on); err != nil {
		return badRequest(err)
	}
	_, err = w.Write([]byte("OK"))
	return err
}

func (h *agcHandler) handleGet(w http.ResponseWriter, r *http.Request) error {
	snap := h.s.engine.CurrentSnapshot()
	_, err := fmt.Fprintln(w, formatBool(snap.AGC))
	return err
}

func (h *agcHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
