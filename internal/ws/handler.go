package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"collabform/api/internal/collab"
	"collabform/api/internal/util"
	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests and drives connections through the engine.
type Handler struct {
	engine   *collab.Engine
	upgrader websocket.Upgrader
}

func NewHandler(engine *collab.Engine) *Handler {
	return &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Credentials travel in the join event, not the upgrade request,
			// so cross-origin upgrades are allowed the same way the HTTP API
			// allows cross-origin calls.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	conn := newConn(util.NewID("conn"), sock)
	h.engine.Connect(conn)
	go conn.writePump()
	h.readPump(conn)
}

func (h *Handler) readPump(conn *Conn) {
	defer func() {
		h.engine.Disconnect(conn)
		conn.close()
	}()

	conn.sock.SetReadLimit(maxMessageSize)
	_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var event collab.Event
		if err := conn.sock.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: connection %s closed: %v", conn.id, err)
			}
			return
		}
		h.dispatch(conn, event)
	}
}

func (h *Handler) dispatch(conn *Conn, event collab.Event) {
	ctx := context.Background()
	switch event.Type {
	case collab.EventJoinForm:
		var req collab.JoinFormRequest
		if err := json.Unmarshal(event.Payload, &req); err != nil {
			log.Printf("ws: malformed %s payload from %s: %v", event.Type, conn.id, err)
			return
		}
		h.engine.HandleJoin(ctx, conn, req)
	case collab.EventUpdateField:
		var req collab.UpdateFieldRequest
		if err := json.Unmarshal(event.Payload, &req); err != nil {
			log.Printf("ws: malformed %s payload from %s: %v", event.Type, conn.id, err)
			return
		}
		h.engine.HandleUpdateField(ctx, conn, req)
	default:
		log.Printf("ws: ignoring unknown event %q from %s", event.Type, conn.id)
	}
}
