package collab

import (
	"context"
	"sync"
)

// Sender is the outbound half of a live connection. Send must not block; a
// transport that cannot keep up drops the frame rather than stalling the room.
type Sender interface {
	ID() string
	Send(Event)
}

// Broadcaster delivers events to every connection in a room. A room is
// nothing more than the set of connections currently grouped under its id;
// it comes into being with the first GroupJoin and vanishes with the last
// GroupLeave.
type Broadcaster interface {
	Attach(conn Sender)
	Detach(connID string)
	GroupJoin(connID, roomID string)
	GroupLeave(connID, roomID string)
	// Publish delivers event to every member of roomID except excludeConnID.
	// Publishes from the same origin arrive at each recipient in order; no
	// ordering holds across different origins.
	Publish(ctx context.Context, roomID string, event Event, excludeConnID string) error
}

// LocalBroadcaster fans out within a single process. It serves one-process
// deployments and tests, and is the delivery layer under RedisBroadcaster.
type LocalBroadcaster struct {
	mu    sync.RWMutex
	conns map[string]Sender
	rooms map[string]map[string]struct{}
}

func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{
		conns: make(map[string]Sender),
		rooms: make(map[string]map[string]struct{}),
	}
}

func (b *LocalBroadcaster) Attach(conn Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[conn.ID()] = conn
}

func (b *LocalBroadcaster) Detach(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, connID)
	for roomID, members := range b.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(b.rooms, roomID)
		}
	}
}

func (b *LocalBroadcaster) GroupJoin(connID, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		b.rooms[roomID] = members
	}
	members[connID] = struct{}{}
}

func (b *LocalBroadcaster) GroupLeave(connID, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(b.rooms, roomID)
	}
}

func (b *LocalBroadcaster) Publish(_ context.Context, roomID string, event Event, excludeConnID string) error {
	b.deliver(roomID, event, excludeConnID)
	return nil
}

// deliver sends to the local members of roomID, skipping excludeConnID.
func (b *LocalBroadcaster) deliver(roomID string, event Event, excludeConnID string) {
	b.mu.RLock()
	recipients := make([]Sender, 0, len(b.rooms[roomID]))
	for connID := range b.rooms[roomID] {
		if connID == excludeConnID {
			continue
		}
		if conn, ok := b.conns[connID]; ok {
			recipients = append(recipients, conn)
		}
	}
	b.mu.RUnlock()

	for _, conn := range recipients {
		conn.Send(event)
	}
}
