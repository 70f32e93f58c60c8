package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/agentdeck/notify"
	"github.com/randalmurphal/agentdeck/permission"
	"github.com/randalmurphal/agentdeck/supervisor"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	maxFrameBytes = 1 << 20
)

// KindSnapshot is sent once per session when a websocket connects.
const KindSnapshot notify.Kind = "snapshot"

// Command is a client-to-server websocket frame.
type Command struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Allow     bool   `json:"allow,omitempty"`
	Remember  bool   `json:"remember,omitempty"`

	supervisor.SendOptions
}

// Command types.
const (
	CommandSend    = "send"
	CommandStop    = "stop"
	CommandResolve = "resolve"
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
}

// handleWebSocket streams notifications, optionally filtered by the
// "session" query parameter, and accepts Commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "err", err)
		return
	}
	filter := r.URL.Query().Get("session")
	notes, unsubscribe := s.bus.Subscribe(filter)
	s.logger.Debug("websocket connected", "remote", r.RemoteAddr, "session", filter)

	out := make(chan notify.Notification, 16)
	for _, sess := range s.ctl.Sessions() {
		if filter == "" || sess.ID == filter {
			select {
			case out <- notify.Notification{Kind: KindSnapshot, SessionID: sess.ID, Time: time.Now(), Payload: sess}:
			default:
			}
		}
	}

	done := make(chan struct{})
	go s.writePump(conn, notes, out, done)
	s.readPump(conn, out)
	close(done)
	unsubscribe()
	s.logger.Debug("websocket disconnected", "remote", r.RemoteAddr)
}

func (s *Server) readPump(conn *websocket.Conn, out chan<- notify.Notification) {
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read", "err", err)
			}
			return
		}
		if err := s.handleCommand(data); err != nil {
			select {
			case out <- notify.Notification{Kind: notify.KindError, Time: time.Now(), Payload: errorBody{Error: err.Error()}}:
			default:
			}
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, notes <-chan notify.Notification, out <-chan notify.Notification, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(n notify.Notification) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteJSON(n); err != nil {
			s.logger.Debug("websocket write", "err", err)
			return false
		}
		return true
	}

	for {
		select {
		case n := <-out:
			if !write(n) {
				return
			}
		case n, ok := <-notes:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if !write(n) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) handleCommand(data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	switch cmd.Type {
	case CommandSend:
		if cmd.Text == "" {
			return errors.New("send: text is required")
		}
		return s.ctl.SendMessage(context.Background(), cmd.SessionID, cmd.Text, cmd.SendOptions)
	case CommandStop:
		if !s.ctl.StopSession(cmd.SessionID) {
			return supervisor.ErrSessionNotFound
		}
		return nil
	case CommandResolve:
		v := permission.Verdict{Allow: cmd.Allow, Remember: cmd.Remember}
		if !s.ctl.ResolvePermission(cmd.RequestID, v) {
			return fmt.Errorf("resolve: request %q is not pending", cmd.RequestID)
		}
		return nil
	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}
