package mirror

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/treemirror/kit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 4 * 1024,
}

// wsReply answers one fragment frame: the IngestResult fields on success,
// error and kind otherwise.
type wsReply struct {
	*IngestResult
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// handleWebSocket reads fragment frames (one JSON fragment per text or
// binary message) and answers each with a wsReply, in order. Empty frames
// are keepalives and get no answer.
func (m *Mirror) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("mirror: websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	m.metrics.wsConnections.Inc()
	defer m.metrics.wsConnections.Dec()

	ctx := kit.WithTransport(r.Context(), kit.TransportWebSocket)
	conn.SetReadLimit(m.cfg.WebSocket.MaxMessageBytes)
	m.logger.Info("mirror: websocket connected", "remote_addr", r.RemoteAddr)

	for {
		conn.SetReadDeadline(time.Now().Add(m.cfg.WebSocket.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Warn("mirror: websocket read failed", "remote_addr", r.RemoteAddr, "error", err)
			} else {
				m.logger.Info("mirror: websocket closed", "remote_addr", r.RemoteAddr)
			}
			return
		}
		if len(data) == 0 {
			continue
		}

		var reply wsReply
		res, err := m.IngestJSON(ctx, data)
		if err != nil {
			reply.Error = err.Error()
			reply.Kind = errorKind(err)
		} else {
			reply.IngestResult = res
		}

		conn.SetWriteDeadline(time.Now().Add(m.cfg.WebSocket.WriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			m.logger.Warn("mirror: websocket write failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}
	}
}
