package collab

import (
	"context"
	"log"

	"collabform/api/internal/auth"
	"collabform/api/internal/store"
)

// CredentialVerifier validates a bearer credential presented on join.
type CredentialVerifier interface {
	VerifyCredential(credential string) (Identity, error)
}

// FormCatalog resolves a share code to its form schema.
type FormCatalog interface {
	GetFormByShareCode(ctx context.Context, shareCode string) (store.Form, error)
}

// ResponseStore is the durable per-(form, user) document the engine merges
// into. Both operations are atomic on the store side; the engine needs no
// locking around them.
type ResponseStore interface {
	GetOrCreateResponse(ctx context.Context, formID, userID string) (store.FormResponse, error)
	MergeResponseField(ctx context.Context, formID, userID, fieldName string, value any, editedBy string) (map[string]any, error)
}

// Engine drives the per-connection protocol state machine: anonymous until a
// successful join, then in exactly one room, until disconnect. All state that
// must survive a reconnect lives in the ResponseStore, not here.
type Engine struct {
	verifier    CredentialVerifier
	catalog     FormCatalog
	responses   ResponseStore
	registry    *Registry
	broadcaster Broadcaster
}

func NewEngine(verifier CredentialVerifier, catalog FormCatalog, responses ResponseStore, broadcaster Broadcaster) *Engine {
	return &Engine{
		verifier:    verifier,
		catalog:     catalog,
		responses:   responses,
		registry:    NewRegistry(broadcaster),
		broadcaster: broadcaster,
	}
}

// Registry exposes the session table, mainly for transports and tests.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Connect registers a new anonymous connection.
func (e *Engine) Connect(conn Sender) {
	e.broadcaster.Attach(conn)
	e.registry.Add(conn.ID())
}

// Disconnect discards the connection's session and room membership. Peers are
// not notified; they simply stop receiving updates from this identity.
func (e *Engine) Disconnect(conn Sender) {
	e.registry.Drop(conn.ID())
	e.broadcaster.Detach(conn.ID())
}

// HandleJoin authenticates the credential, resolves the share code, binds the
// connection to the form's room and replies with the schema plus the caller's
// current response document, creating an empty one on first access.
func (e *Engine) HandleJoin(ctx context.Context, conn Sender, req JoinFormRequest) {
	if req.Token == "" {
		e.sendError(conn, CodeAuthFailed, "authentication token is required")
		return
	}
	if req.ShareCode == "" {
		e.sendError(conn, CodeRoomNotFound, "share code is required")
		return
	}

	identity, err := e.verifier.VerifyCredential(req.Token)
	if err != nil {
		e.sendError(conn, CodeAuthFailed, "authentication failed")
		return
	}

	form, err := e.catalog.GetFormByShareCode(ctx, req.ShareCode)
	if err != nil {
		e.sendError(conn, CodeRoomNotFound, "no form found for this share code")
		return
	}

	// The connection may have dropped while the credential or share code was
	// being resolved; a completed-but-stale join must change nothing.
	if !e.registry.Bind(conn.ID(), identity) {
		return
	}
	if err := e.registry.JoinRoom(conn.ID(), form.ID, fieldNames(form)); err != nil {
		return
	}

	response, err := e.responses.GetOrCreateResponse(ctx, form.ID, identity.UserID)
	if err != nil {
		// Back out of the half-joined room so the connection stays in its
		// pre-join state and can retry.
		e.registry.LeaveRoom(conn.ID())
		e.sendError(conn, CodePersistenceFailed, "could not load form response")
		return
	}
	if _, ok := e.registry.Session(conn.ID()); !ok {
		return
	}

	values := response.Data
	if values == nil {
		values = map[string]any{}
	}
	e.send(conn, EventFormJoined, FormJoinedPayload{Form: form, Response: values})
}

// HandleUpdateField merges one field value into the caller's response
// document and broadcasts the change to the rest of the room. The broadcast
// happens only after the merge durably succeeds.
func (e *Engine) HandleUpdateField(ctx context.Context, conn Sender, req UpdateFieldRequest) {
	session, ok := e.registry.Session(conn.ID())
	if !ok || session.Identity == nil || session.RoomID == "" || session.RoomID != req.FormID {
		e.sendError(conn, CodeNotInRoom, "not joined to this form")
		return
	}
	if _, known := session.Fields[req.FieldName]; !known {
		e.sendError(conn, CodeUnknownField, "field does not exist in this form")
		return
	}

	identity := *session.Identity
	if _, err := e.responses.MergeResponseField(ctx, req.FormID, identity.UserID, req.FieldName, req.NewValue, identity.Username); err != nil {
		e.sendError(conn, CodePersistenceFailed, "could not save field update")
		return
	}

	// A disconnect may have raced the merge; don't publish for a dead session.
	if current, ok := e.registry.Session(conn.ID()); !ok || current.RoomID != req.FormID {
		return
	}

	event, err := NewEvent(EventFieldUpdated, FieldUpdatedPayload{
		FormID:    req.FormID,
		FieldName: req.FieldName,
		NewValue:  req.NewValue,
		UpdatedBy: identity.Username,
	})
	if err != nil {
		log.Printf("collab: encode field update: %v", err)
		return
	}
	if err := e.broadcaster.Publish(ctx, req.FormID, event, conn.ID()); err != nil {
		log.Printf("collab: broadcast field update for form %s: %v", req.FormID, err)
	}
}

func (e *Engine) send(conn Sender, eventType string, payload any) {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		log.Printf("collab: encode %s: %v", eventType, err)
		return
	}
	conn.Send(event)
}

func (e *Engine) sendError(conn Sender, code, message string) {
	e.send(conn, EventFormError, FormErrorPayload{Code: code, Message: message})
}

func fieldNames(form store.Form) []string {
	names := make([]string, 0, len(form.Fields))
	for _, field := range form.Fields {
		names = append(names, field.Name)
	}
	return names
}

// TokenVerifier verifies the signed bearer tokens issued at login. The token
// is self-contained, so verification needs no store round trip.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

func (v *TokenVerifier) VerifyCredential(credential string) (Identity, error) {
	claims, err := auth.ParseToken(v.secret, credential)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		UserID:   claims.Sub,
		Username: claims.Name,
		Role:     claims.Role,
	}, nil
}
