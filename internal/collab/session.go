package collab

import (
	"errors"
	"sync"
)

var (
	// ErrUnauthenticated is returned when a room join is attempted on a
	// connection that has no bound identity.
	ErrUnauthenticated = errors.New("connection is not authenticated")
	// ErrSessionGone is returned when the connection's session no longer
	// exists, typically because it disconnected while an operation was in
	// flight.
	ErrSessionGone = errors.New("session no longer exists")
)

// Session is the ephemeral per-connection state. A session is in at most one
// room at a time; joining a new room leaves the old one first.
type Session struct {
	ConnID   string
	Identity *Identity
	RoomID   string
	// Fields is the field-name set of the joined form's schema, fixed at
	// join time (schemas are immutable). Treated as read-only once set.
	Fields map[string]struct{}
}

type groupMembership interface {
	GroupJoin(connID, roomID string)
	GroupLeave(connID, roomID string)
}

// Registry is the in-process table of live sessions. Room membership in the
// broadcaster is updated inside the registry's lock, so a connection is never
// a group member without a matching registry entry or vice versa.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	groups   groupMembership
}

func NewRegistry(groups groupMembership) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		groups:   groups,
	}
}

// Add creates an anonymous session for a new connection.
func (r *Registry) Add(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connID] = &Session{ConnID: connID}
}

// Bind attaches an authenticated identity to the connection. Binding a
// connection that has already disconnected is a no-op.
func (r *Registry) Bind(connID string, identity Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[connID]
	if !ok {
		return false
	}
	session.Identity = &identity
	return true
}

// JoinRoom moves the connection into roomID, leaving any prior room first.
// The broadcaster group membership is updated in the same locked step.
func (r *Registry) JoinRoom(connID, roomID string, fieldNames []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[connID]
	if !ok {
		return ErrSessionGone
	}
	if session.Identity == nil {
		return ErrUnauthenticated
	}
	if session.RoomID != "" && session.RoomID != roomID {
		r.groups.GroupLeave(connID, session.RoomID)
	}
	if session.RoomID != roomID {
		r.groups.GroupJoin(connID, roomID)
	}
	session.RoomID = roomID
	fields := make(map[string]struct{}, len(fieldNames))
	for _, name := range fieldNames {
		fields[name] = struct{}{}
	}
	session.Fields = fields
	return nil
}

// LeaveRoom removes the connection from its current room, if any, keeping the
// identity bound.
func (r *Registry) LeaveRoom(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[connID]
	if !ok || session.RoomID == "" {
		return
	}
	r.groups.GroupLeave(connID, session.RoomID)
	session.RoomID = ""
	session.Fields = nil
}

// Session returns a snapshot of the connection's session.
func (r *Registry) Session(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

// Drop discards the connection's session and releases its room membership.
func (r *Registry) Drop(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[connID]
	if !ok {
		return
	}
	if session.RoomID != "" {
		r.groups.GroupLeave(connID, session.RoomID)
	}
	delete(r.sessions, connID)
}
