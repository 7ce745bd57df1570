package control

import "net/http"

type quitHandler struct{ s *Server }

func newQuitHandler(s *Server) http.Handler { return &quitHandler{s} }

func (h *quitHandler) handlePut(w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return badRequest(err)
	}
	want, err := parseBool(body)
	if err != nil {
		return badRequest(err)
	}
	if !want {
		_, err := w.Write([]byte("OK"))
		return err
	}
	// Schedule shutdown; reply before the engine and server actually stop
	// so this handler's own response is not cut short.
	go func() {
		_ = h.s.engine.Quit()
		_ = h.s.Shutdown()
	}()
	_, err = w.Write([]byte("OK"))
	return err
}

func (h *quitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.Method {
	case http.MethodPut:
		err = h.handlePut(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		writeError(w, err)
	}
}
