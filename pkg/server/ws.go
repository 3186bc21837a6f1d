package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The cabinet serves its own UI on the local network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

// wsEnvelope is one outbound message: the bus payload plus its type tag.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsInbound is one client message.
type wsInbound struct {
	Action string `json:"action"`

	// authenticate
	RFID string `json:"rfid,omitempty"`

	// motor
	Motor string `json:"motor,omitempty"` // "move" | "init" | "stop"
	X     int    `json:"x,omitempty"`
	Y     int    `json:"y,omitempty"`

	// servo / shutter
	Lock    string `json:"lock,omitempty"`
	Shutter string `json:"shutter,omitempty"`
	State   string `json:"state,omitempty"` // "open" | "close"
}

// handleWS upgrades the connection and bridges the event bus to the
// socket. Outbound messages mirror the bus kinds; inbound messages accept
// the ping/authenticate/motor/servo/shutter verbs.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.bus.Subscribe(64)
	done := make(chan struct{})

	// Writer: pump bus messages out.
	go func() {
		defer conn.Close()
		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(wsEnvelope{Type: msg.Kind(), Data: msg}); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Reader: handle inbound verbs until the socket closes.
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var in wsInbound
		if err := json.Unmarshal(raw, &in); err != nil {
			continue
		}
		s.handleWSAction(conn, in)
	}

	close(done)
	sub.Cancel()
}

func (s *Server) handleWSAction(conn *websocket.Conn, in wsInbound) {
	switch in.Action {
	case "ping":
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		conn.WriteJSON(wsEnvelope{Type: "pong"})

	case "authenticate":
		if in.RFID == "" {
			return
		}
		// The result also reaches this socket via the bus broadcast.
		go s.services.Authenticate(context.Background(), in.RFID)

	case "motor":
		switch in.Motor {
		case "init":
			go s.motion.InitHome()
		case "stop":
			s.motion.Stop()
		case "move":
			go s.motion.MoveTo(in.X, in.Y)
		}

	case "servo":
		if in.Lock == "" {
			return
		}
		go s.driveServo(in.Lock, in.State)

	case "shutter":
		if in.Shutter == "" {
			return
		}
		go s.driveShutter(in.Shutter, in.State)
	}
}
