package control

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errPeakMeterUnavailable = errors.New("peak meter not running")

// wsPeakHandler pushes PeakSnapshot JSON over a websocket, supplementing
// the chunked-text /peak endpoint for operator dashboards that want push
// rather than poll.
type wsPeakHandler struct {
	s        *Server
	upgrader websocket.Upgrader
}

func newWSPeakHandler(s *Server) http.Handler {
	return &wsPeakHandler{
		s: s,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (h *wsPeakHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.s.peak == nil {
		writeError(w, serviceUnavailable(errPeakMeterUnavailable))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, cancel := h.s.peak.Subscribe()
	defer cancel()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}
