package control

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

type settingHandler struct{ s *Server }

func newSettingHandler(s *Server) http.Handler { return &settingHandler{s} }

func (h *settingHandler) handlePut(w http.ResponseWriter, r *http.Request, name string) error {
	if name == "" {
		return badRequest(fmt.Errorf("PUT /setting requires a name: /setting/<name>"))
	}
	value, err := readBody(r)
	if err != nil {
		return badRequest(err)
	}
	if err := h.s.engine.SetNamedSetting(name, value); err != nil {
		return badRequest(err)
	}
	_, err = w.Write([]byte("OK"))
	return err
}

func (h *settingHandler) handleGet(w http.ResponseWriter, r *http.Request, name string) error {
	if name == "session_id" {
		id, ok := h.s.engine.SessionID()
		if !ok {
			return notFound(fmt.Errorf("no recording session open"))
		}
		_, err := fmt.Fprintf(w, "session_id: %s\n", id)
		return err
	}

	snap := h.s.engine.CurrentSnapshot()
	if name != "" {
		v, ok := snap.Settings[name]
		if !ok {
			return notFound(fmt.Errorf("unknown setting %q", name))
		}
		_, err := fmt.Fprintf(w, "%s: %s\n", name, v)
		return err
	}

	names := make([]string, 0, len(snap.Settings))
	for k := range snap.Settings {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if _, err := fmt.Fprintf(w, "%s: %s\n", k, snap.Settings[k]); err != nil {
			return err
		}
	}
	return nil
}

func (h *settingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(r.URL.Path, "/")
	var err error
	switch r.Method {
	case http.MethodPut:
		err = h.handlePut(w, r, name)
	case http.MethodGet:
		err = h.handleGet(w, r, name)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		writeError(w, err)
	}
}
