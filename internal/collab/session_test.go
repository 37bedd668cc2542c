package collab

import (
	"errors"
	"sync"
	"testing"
)

type groupRecorder struct {
	mu     sync.Mutex
	joins  []string
	leaves []string
}

func (g *groupRecorder) GroupJoin(connID, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.joins = append(g.joins, connID+"/"+roomID)
}

func (g *groupRecorder) GroupLeave(connID, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaves = append(g.leaves, connID+"/"+roomID)
}

func TestJoinRoomRequiresIdentity(t *testing.T) {
	registry := NewRegistry(&groupRecorder{})
	registry.Add("c1")

	err := registry.JoinRoom("c1", "room-1", nil)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("JoinRoom on unbound connection = %v, want ErrUnauthenticated", err)
	}
}

func TestJoinRoomOnMissingSession(t *testing.T) {
	registry := NewRegistry(&groupRecorder{})

	if err := registry.JoinRoom("ghost", "room-1", nil); !errors.Is(err, ErrSessionGone) {
		t.Fatalf("JoinRoom on missing session = %v, want ErrSessionGone", err)
	}
	if registry.Bind("ghost", Identity{UserID: "u1"}) {
		t.Fatal("Bind on missing session should report false")
	}
}

func TestJoinRoomLeavesPriorRoom(t *testing.T) {
	groups := &groupRecorder{}
	registry := NewRegistry(groups)
	registry.Add("c1")
	registry.Bind("c1", Identity{UserID: "u1", Username: "dana"})

	if err := registry.JoinRoom("c1", "room-a", []string{"age"}); err != nil {
		t.Fatalf("JoinRoom(room-a) error = %v", err)
	}
	if err := registry.JoinRoom("c1", "room-b", []string{"name"}); err != nil {
		t.Fatalf("JoinRoom(room-b) error = %v", err)
	}

	session, ok := registry.Session("c1")
	if !ok || session.RoomID != "room-b" {
		t.Fatalf("session room = %+v, want room-b", session)
	}
	if _, known := session.Fields["name"]; !known {
		t.Error("fields not replaced on room switch")
	}
	if _, stale := session.Fields["age"]; stale {
		t.Error("stale fields survived the room switch")
	}
	if len(groups.leaves) != 1 || groups.leaves[0] != "c1/room-a" {
		t.Errorf("leaves = %v, want [c1/room-a]", groups.leaves)
	}
	if len(groups.joins) != 2 {
		t.Errorf("joins = %v, want two entries", groups.joins)
	}
}

func TestDropReleasesMembership(t *testing.T) {
	groups := &groupRecorder{}
	registry := NewRegistry(groups)
	registry.Add("c1")
	registry.Bind("c1", Identity{UserID: "u1"})
	if err := registry.JoinRoom("c1", "room-a", nil); err != nil {
		t.Fatalf("JoinRoom error = %v", err)
	}

	registry.Drop("c1")

	if _, ok := registry.Session("c1"); ok {
		t.Fatal("session survived Drop")
	}
	if len(groups.leaves) != 1 || groups.leaves[0] != "c1/room-a" {
		t.Errorf("leaves = %v, want [c1/room-a]", groups.leaves)
	}
	// Dropping again is a no-op.
	registry.Drop("c1")
	if len(groups.leaves) != 1 {
		t.Errorf("second Drop changed membership: %v", groups.leaves)
	}
}
