package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/control"

	"github.com/gorilla/websocket"
)

// Server транслирует шину событий плоскости управления WS-подписчикам
// панели и принимает от них чат и команды.
type Server struct {
	plane    *control.Plane
	upgrader websocket.Upgrader

	pingEvery time.Duration
}

func NewServer(plane *control.Plane) *Server {
	return &Server{
		plane: plane,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS endpoint: GET /v1/events
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}
	c := newWsConn(conn)

	events, unsubscribe := s.plane.Subscribe()
	defer unsubscribe()

	if err := s.sendState(c); err != nil {
		slog.Warn("ws send initial state failed", "err", err)
	}

	go s.writeLoop(c, events)
	s.readLoop(r.Context(), c)

	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "err", err)
	}
}

func (s *Server) sendState(c *wsConn) error {
	st := StatePayload{
		SelfID:      s.plane.SelfID(),
		ControlMode: s.plane.ControlMode(),
	}
	if room, members, ok := s.plane.Room(); ok {
		st.InRoom = true
		st.Room = &room
		st.Members = members
	}

	return c.Send(Message{Type: TypeState, Payload: st})
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case TypeChat:
			var p ChatInPayload
			if decode(msg.Payload, &p) != nil {
				continue
			}
			text := strings.TrimSpace(p.Text)
			if text == "" {
				continue
			}
			if err := s.plane.SendChat(text); err != nil {
				_ = c.Send(Message{Type: TypeError, Payload: ErrorPayload{Op: TypeChat, Message: err.Error()}})
				continue
			}
			_ = c.Send(Message{Type: TypeAck, Payload: AckPayload{Op: TypeChat}})
		case TypeCommand:
			var p CommandInPayload
			if decode(msg.Payload, &p) != nil {
				continue
			}
			id, err := s.plane.SendCommand(ctx, p.TargetID, p.ControlCommand)
			if err != nil {
				_ = c.Send(Message{Type: TypeError, Payload: ErrorPayload{Op: TypeCommand, Message: err.Error()}})
				continue
			}
			_ = c.Send(Message{Type: TypeAck, Payload: AckPayload{Op: TypeCommand, CommandID: id}})
		default:
			// ignore
		}
	}
}

func (s *Server) writeLoop(c *wsConn, events <-chan control.Event) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.Send(Message{Type: TypeEvent, Payload: ev}); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-c.closed:
			return
		}
	}
}

// --- helpers ---

func decode(payload interface{}, dst interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, dst)
}

type wsConn struct {
	conn   *websocket.Conn
	sendMu chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newWsConn(c *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   c,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

// Close идемпотентен: его зовут и цикл чтения, и цикл записи при ошибке.
func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})

	return err
}
