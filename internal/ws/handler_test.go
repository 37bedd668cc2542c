package ws

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"collabform/api/internal/auth"
	"collabform/api/internal/collab"
	"collabform/api/internal/store"
	"github.com/gorilla/websocket"
)

var testSecret = []byte("ws-test-secret")

type staticCatalog struct {
	form store.Form
}

func (c *staticCatalog) GetFormByShareCode(_ context.Context, shareCode string) (store.Form, error) {
	if shareCode != c.form.ShareCode {
		return store.Form{}, sql.ErrNoRows
	}
	return c.form, nil
}

type memResponses struct {
	mu   sync.Mutex
	docs map[string]map[string]any
}

func (m *memResponses) GetOrCreateResponse(_ context.Context, formID, userID string) (store.FormResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formID + "|" + userID
	if m.docs[key] == nil {
		m.docs[key] = make(map[string]any)
	}
	data := make(map[string]any, len(m.docs[key]))
	for k, v := range m.docs[key] {
		data[k] = v
	}
	return store.FormResponse{FormID: formID, UserID: userID, Data: data}, nil
}

func (m *memResponses) MergeResponseField(_ context.Context, formID, userID, fieldName string, value any, _ string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formID + "|" + userID
	if m.docs[key] == nil {
		m.docs[key] = make(map[string]any)
	}
	m.docs[key][fieldName] = value
	return m.docs[key], nil
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	form := store.Form{
		ID:        "frm_ws",
		OwnerID:   "u1",
		Name:      "Survey",
		ShareCode: "ABC123",
		Fields:    []store.FieldSpec{{Name: "age", Label: "Age", Kind: store.FieldKindNumber}},
	}
	engine := collab.NewEngine(
		collab.NewTokenVerifier(testSecret),
		&staticCatalog{form: form},
		&memResponses{docs: make(map[string]map[string]any)},
		collab.NewLocalBroadcaster(),
	)
	server := httptest.NewServer(NewHandler(engine))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	event, err := collab.NewEvent(eventType, payload)
	if err != nil {
		t.Fatalf("NewEvent(%s): %v", eventType, err)
	}
	if err := conn.WriteJSON(event); err != nil {
		t.Fatalf("write %s: %v", eventType, err)
	}
}

func read(t *testing.T, conn *websocket.Conn) collab.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event collab.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

func joinedClient(t *testing.T, server *httptest.Server, userID, username string) *websocket.Conn {
	t.Helper()
	conn := dial(t, server)
	token, err := auth.IssueToken(testSecret, auth.Claims{
		Sub:  userID,
		Name: username,
		Role: "user",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	send(t, conn, collab.EventJoinForm, collab.JoinFormRequest{ShareCode: "ABC123", Token: token})
	event := read(t, conn)
	if event.Type != collab.EventFormJoined {
		t.Fatalf("join reply = %+v, want form_joined", event)
	}
	return conn
}

func TestJoinAndFanOutOverWebsocket(t *testing.T) {
	server := startServer(t)
	editor := joinedClient(t, server, "u2", "pat")
	observer := joinedClient(t, server, "u3", "lee")

	send(t, editor, collab.EventUpdateField, collab.UpdateFieldRequest{
		FormID:    "frm_ws",
		FieldName: "age",
		NewValue:  30,
	})

	event := read(t, observer)
	if event.Type != collab.EventFieldUpdated {
		t.Fatalf("observer received %+v, want field_updated", event)
	}
	var payload collab.FieldUpdatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("unmarshal field_updated: %v", err)
	}
	if payload.FieldName != "age" || payload.NewValue != float64(30) || payload.UpdatedBy != "pat" {
		t.Errorf("payload = %+v", payload)
	}

	// The editor gets no echo: the next read should time out.
	_ = editor.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var echo collab.Event
	if err := editor.ReadJSON(&echo); err == nil {
		t.Errorf("editor received unexpected echo: %+v", echo)
	}
}

func TestUpdateBeforeJoinOverWebsocket(t *testing.T) {
	server := startServer(t)
	conn := dial(t, server)

	send(t, conn, collab.EventUpdateField, collab.UpdateFieldRequest{
		FormID:    "frm_ws",
		FieldName: "age",
		NewValue:  30,
	})

	event := read(t, conn)
	if event.Type != collab.EventFormError {
		t.Fatalf("received %+v, want form_error", event)
	}
	var payload collab.FormErrorPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("unmarshal form_error: %v", err)
	}
	if payload.Code != collab.CodeNotInRoom {
		t.Errorf("error code = %s, want %s", payload.Code, collab.CodeNotInRoom)
	}
}
