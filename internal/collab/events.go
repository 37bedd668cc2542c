// Package collab implements the real-time collaborative session engine: it
// authenticates joining connections, binds each one to a single form room,
// merges concurrent field edits into the durable per-participant response,
// and fans the resulting update out to every other connection in the room,
// across server processes.
package collab

import (
	"encoding/json"
	"fmt"

	"collabform/api/internal/store"
)

// Wire event names, client to server and back.
const (
	EventJoinForm     = "join_form"
	EventUpdateField  = "update_field"
	EventFormJoined   = "form_joined"
	EventFieldUpdated = "field_updated"
	EventFormError    = "form_error"
)

// Error codes carried in form_error payloads. Every one is terminal to the
// operation but not to the connection.
const (
	CodeAuthFailed        = "AUTH_FAILED"
	CodeRoomNotFound      = "ROOM_NOT_FOUND"
	CodeNotInRoom         = "NOT_IN_ROOM"
	CodeUnknownField      = "UNKNOWN_FIELD"
	CodePersistenceFailed = "PERSISTENCE_FAILED"
)

// Event is one framed protocol message.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into a framed event.
func NewEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: raw}, nil
}

// Identity is the authenticated principal bound to a connection.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type JoinFormRequest struct {
	ShareCode string `json:"shareCode"`
	Token     string `json:"token"`
}

type UpdateFieldRequest struct {
	FormID    string `json:"formId"`
	FieldName string `json:"fieldName"`
	NewValue  any    `json:"newValue"`
}

type FormJoinedPayload struct {
	Form     store.Form     `json:"form"`
	Response map[string]any `json:"response"`
}

type FieldUpdatedPayload struct {
	FormID    string `json:"formId"`
	FieldName string `json:"fieldName"`
	NewValue  any    `json:"newValue"`
	UpdatedBy string `json:"updatedBy"`
}

type FormErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
