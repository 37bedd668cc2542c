// Package ws carries the collaboration protocol over websocket connections.
// It is a thin shell: framing, liveness and per-connection FIFO live here,
// all protocol decisions live in the collab engine.
package ws

import (
	"log"
	"sync"
	"time"

	"collabform/api/internal/collab"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// Conn adapts one websocket to the engine's Sender contract. Outbound events
// go through a buffered queue drained by a single writer goroutine; inbound
// events are handled one at a time by the reader goroutine, which is what
// gives each connection FIFO handling of its own events.
type Conn struct {
	id        string
	sock      *websocket.Conn
	send      chan collab.Event
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, sock *websocket.Conn) *Conn {
	return &Conn{
		id:   id,
		sock: sock,
		send: make(chan collab.Event, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Send enqueues an event without blocking. A connection whose queue is full
// loses the frame; its next join re-hydrates from the store.
func (c *Conn) Send(event collab.Event) {
	select {
	case c.send <- event:
	case <-c.done:
	default:
		log.Printf("ws: dropping %s frame for slow connection %s", event.Type, c.id)
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case event := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
