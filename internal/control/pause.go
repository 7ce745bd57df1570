package control

import (
	"fmt"
	"net/http"
)

type pauseHandler struct{ s *Server }

func newPauseHandler(s *Server) http.Handler { return &pauseHandler{s} }

func (h *pauseHandler) handlePut(w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return badRequest(err)
	}
	pause, err := parseBool(body)
	if err != nil {
		return badRequest(err)
	}
	if pause {
		if err := h.s.engine.CloseRecording(); err != nil {
			return badRequest(err)
		}
	} else {
		if err := h.s.engine.OpenRecording(h.s.recTemplate); err != nil {
			return badRequest(err)
		}
	}
	_, err = w.Write([]byte("OK"))
	return err
}

func (h *pauseHandler) handleGet(w http.ResponseWriter, r *http.Request) error {
	_, err := fmt.Fprintln(w, formatBool(!h.s.engine.IsRecording()))
	return err
}

func (h *pauseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
