package server

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
)

// Message is one websocket frame. Inbound frames have type "chat"; replies
// are "response" with the answer in Data, or "error" with Content set.
type Message struct {
	Type           string `json:"type"`
	WidgetKey      string `json:"widget_key,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	Status         int    `json:"status,omitempty"`
	Data           any    `json:"data,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Tenant domains are checked per message against allowed_domains.
			if len(s.config.CORSOrigins) == 0 || slices.Contains(s.config.CORSOrigins, "*") {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(s.config.CORSOrigins, origin)
		},
	}
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws.upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn}
	g := guestFrom(r)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("ws.read_failed", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError(c, invalid("invalid JSON frame"))
			continue
		}
		if msg.Type != "chat" {
			s.sendError(c, invalid("unsupported message type "+msg.Type))
			continue
		}

		wg.Add(1)
		go func(msg Message) {
			defer wg.Done()
			s.handleMessage(r, c, g, msg)
		}(msg)
	}
}

func (s *Server) handleMessage(r *http.Request, c *wsConn, g guest, msg Message) {
	answer, err := s.chat(r.Context(), ChatRequest{
		WidgetKey:      msg.WidgetKey,
		ConversationID: msg.ConversationID,
		Message:        msg.Content,
	}, g)
	if err != nil {
		s.sendError(c, err)
		return
	}

	if err := c.send(Message{Type: "response", ConversationID: msg.ConversationID, Data: answer}); err != nil {
		s.log.Warn("ws.send_failed", "error", err)
	}
}

func (s *Server) sendError(c *wsConn, err error) {
	status, detail := statusFor(err)
	if status >= 500 {
		s.log.Error("ws.error", "status", status, "error", err)
	}
	if err := c.send(Message{Type: "error", Status: status, Content: detail}); err != nil {
		s.log.Warn("ws.send_failed", "error", err)
	}
}
