package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridpulse/gridpulse-core/internal/ingest"
	"github.com/gridpulse/gridpulse-core/internal/telemetry"
)

// WebSocket message types.
const (
	WSTypeReading = "reading"
	WSTypeError   = "error"
)

// WSMessage is the envelope for messages pushed to WebSocket clients.
type WSMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket upgrades the connection and streams live readings.
//
// Optional "device" and "metric" query parameters narrow the stream;
// each accepts a comma-separated list. Without parameters the client
// receives every persisted reading.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeUnavailable(w, "live stream is not available")
		return
	}

	filter := ingest.Filter{
		Devices: splitParam(r.URL.Query().Get("device")),
		Metrics: splitParam(r.URL.Query().Get("metric")),
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := s.pipeline.Subscribe(filter)
	s.logger.Debug("websocket client connected",
		"subscription", sub.ID(), "devices", filter.Devices, "metrics", filter.Metrics)

	go s.readPump(conn, sub)
	go s.writePump(conn, sub)
}

// readPump drains client frames so protocol-level pongs and close
// frames are processed, and tears the subscription down when the
// client goes away.
func (s *Server) readPump(conn *websocket.Conn, sub *ingest.Subscription) {
	defer func() {
		s.pipeline.Unsubscribe(sub.ID())
		conn.Close()
	}()

	conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	deadline := s.readDeadline()
	conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // Best-effort deadline on connection setup
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			} else {
				s.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Readings flow one way; inbound frames only keep the connection alive.
		conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // Best-effort deadline reset
	}
}

// writePump forwards subscription readings to the client and sends
// protocol-level pings. It exits when the subscription channel closes
// (pipeline shutdown or Unsubscribe) or the server context ends.
func (s *Server) writePump(conn *websocket.Conn, sub *ingest.Subscription) {
	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	writeWait := time.Duration(s.wsCfg.PongTimeout) * time.Second

	for {
		select {
		case reading, ok := <-sub.Readings():
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Best-effort close message
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Best-effort deadline; write error caught below
			if err := conn.WriteJSON(readingMessage(reading)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Best-effort deadline; ping error caught below
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Best-effort close message
			return
		}
	}
}

func (s *Server) readDeadline() time.Duration {
	return time.Duration(s.wsCfg.PingInterval+s.wsCfg.PongTimeout) * time.Second
}

func readingMessage(r telemetry.Reading) WSMessage {
	return WSMessage{
		Type:      WSTypeReading,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   r,
	}
}

// splitParam splits a comma-separated query parameter, dropping empty
// segments.
func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
