package olttest

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseAuthFailed is the close code the backend uses for a rejected token.
const CloseAuthFailed = 4001

// Frame is one text frame received from a client.
type Frame struct {
	Type string
	Raw  []byte
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *wsConn) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) closeWith(code int, reason string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// SetWSReject makes the upgrade fail with status (0 accepts again).
func (s *Server) SetWSReject(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wsReject = status
}

// Upgrades counts successful realtime handshakes.
func (s *Server) Upgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades
}

// ConnCount is the number of open realtime connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Received returns every frame clients have sent, oldest first.
func (s *Server) Received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.received))
	copy(out, s.received)
	return out
}

// ReceivedOfType filters Received by envelope type.
func (s *Server) ReceivedOfType(typ string) []Frame {
	var out []Frame
	for _, f := range s.Received() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// Push JSON-encodes v and sends it to every open connection.
func (s *Server) Push(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.PushRaw(data)
}

// PushEvent sends {"type": typ, "payload": payload}.
func (s *Server) PushEvent(typ string, payload any) error {
	return s.Push(map[string]any{"type": typ, "payload": payload})
}

// PushRaw sends data verbatim to every open connection.
func (s *Server) PushRaw(data []byte) error {
	var firstErr error
	for _, c := range s.snapshotConns() {
		if err := c.write(data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CloseConns sends a close frame with code to every connection.
func (s *Server) CloseConns(code int, reason string) {
	for _, c := range s.snapshotConns() {
		c.closeWith(code, reason)
	}
}

// DropConns tears connections down without a close frame, which clients
// observe as an abnormal closure.
func (s *Server) DropConns() {
	for _, c := range s.snapshotConns() {
		_ = c.conn.Close()
	}
}

func (s *Server) snapshotConns() []*wsConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.wsReject
	s.mu.Unlock()

	if reject != 0 {
		writeDetail(w, reject, http.StatusText(reject))
		return
	}
	if _, err := s.accountForAccess(r.URL.Query().Get("token")); err != nil {
		writeDetail(w, http.StatusUnauthorized, "Authentication failed")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsConn{conn: conn}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.upgrades++
	s.mu.Unlock()

	go s.readLoop(c)
}

func (s *Server) readLoop(c *wsConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}
		_ = json.Unmarshal(data, &env)

		s.mu.Lock()
		s.received = append(s.received, Frame{Type: env.Type, Raw: data})
		s.mu.Unlock()

		switch env.Type {
		case "ping":
			pong, _ := json.Marshal(map[string]any{
				"type": "pong",
				"data": map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)},
			})
			_ = c.write(pong)
		case "auth":
			if _, err := s.accountForAccess(env.Token); err != nil {
				c.closeWith(CloseAuthFailed, "Authentication failed")
				return
			}
		}
	}
}
