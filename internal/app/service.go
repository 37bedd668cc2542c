package app

import (
	"context"
	"fmt"
	"time"

	"collabform/api/internal/auth"
	"collabform/api/internal/authpw"
	"collabform/api/internal/config"
	"collabform/api/internal/export"
	"collabform/api/internal/rbac"
	"collabform/api/internal/session"
	"collabform/api/internal/store"
	"collabform/api/internal/util"
)

// Session is an authenticated HTTP caller, reconstructed from a bearer token.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Role         string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateForm(ctx context.Context, form store.Form) (store.Form, error)
	GetFormByID(ctx context.Context, formID string) (store.Form, error)
	GetFormByShareCode(ctx context.Context, shareCode string) (store.Form, error)
	ListFormsByOwner(ctx context.Context, ownerID string) ([]store.Form, error)
	GetOrCreateResponse(ctx context.Context, formID, userID string) (store.FormResponse, error)
	ListFormResponses(ctx context.Context, formID string) ([]store.ResponseRow, error)
	Ping(ctx context.Context) error
}

type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, username, role string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	accounts *authpw.Service
	sessions refreshStore
}

func New(cfg config.Config, dataStore dataStore, sessions refreshStore) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		accounts: authpw.NewService(dataStore),
		sessions: sessions,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// Register creates an account. Roles: admin (may define forms) or user.
func (s *Service) Register(ctx context.Context, username, password, role string) (store.User, error) {
	return s.accounts.Register(ctx, username, password, role)
}

// Login verifies the password and issues an access/refresh token pair.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user.ID, user.Username, user.Role)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued for the identity it was bound to.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, data.UserID, data.Username, data.Role)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, userID, username, role string) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  userID,
		Name: username,
		Role: role,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), userID, username, role, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       userID,
		Username:     username,
		Role:         role,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken reconstructs the caller's session from a bearer token.
// The token is self-contained; no store round trip is needed.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Username:  claims.Name,
		Role:      claims.Role,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// CreateFormInput is the admin-supplied form definition.
type CreateFormInput struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Fields      []store.FieldSpec `json:"fields"`
}

// CreateForm validates the schema and persists it with a fresh share code.
func (s *Service) CreateForm(ctx context.Context, caller Session, input CreateFormInput) (store.Form, error) {
	if !rbac.Can(rbac.Normalize(caller.Role), rbac.ActionCreateForm) {
		return store.Form{}, forbiddenError("only administrators can create forms")
	}
	if input.Name == "" {
		return store.Form{}, validationError("form name is required")
	}
	if err := validateFields(input.Fields); err != nil {
		return store.Form{}, err
	}

	form, err := s.store.CreateForm(ctx, store.Form{
		OwnerID:     caller.UserID,
		Name:        input.Name,
		Description: input.Description,
		Fields:      input.Fields,
	})
	if err != nil {
		return store.Form{}, fmt.Errorf("create form: %w", err)
	}
	return form, nil
}

func validateFields(fields []store.FieldSpec) error {
	if len(fields) == 0 {
		return validationError("at least one field is required")
	}
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if field.Name == "" || field.Label == "" {
			return validationError("every field needs a name and a label")
		}
		if _, dup := seen[field.Name]; dup {
			return validationError(fmt.Sprintf("duplicate field name %q", field.Name))
		}
		seen[field.Name] = struct{}{}
		switch field.Kind {
		case store.FieldKindChoice:
			if len(field.Choices) == 0 {
				return validationError(fmt.Sprintf("field %q needs at least one choice", field.Name))
			}
		case store.FieldKindText, store.FieldKindNumber:
			if len(field.Choices) != 0 {
				return validationError(fmt.Sprintf("field %q must not carry choices", field.Name))
			}
		default:
			return validationError(fmt.Sprintf("unknown field kind %q", field.Kind))
		}
	}
	return nil
}

// ListForms returns the forms owned by the caller.
func (s *Service) ListForms(ctx context.Context, caller Session) ([]store.Form, error) {
	if !rbac.Can(rbac.Normalize(caller.Role), rbac.ActionListForms) {
		return nil, forbiddenError("only administrators can list their forms")
	}
	return s.store.ListFormsByOwner(ctx, caller.UserID)
}

// GetForm returns one form; only the owner may fetch it by id.
func (s *Service) GetForm(ctx context.Context, caller Session, formID string) (store.Form, error) {
	form, err := s.store.GetFormByID(ctx, formID)
	if err != nil {
		return store.Form{}, err
	}
	if form.OwnerID != caller.UserID {
		return store.Form{}, forbiddenError("you do not own this form")
	}
	return form, nil
}

// ExportResponses renders every participant's response for a form as CSV.
// Only the owner may export.
func (s *Service) ExportResponses(ctx context.Context, caller Session, formID string) (store.Form, []byte, error) {
	form, err := s.GetForm(ctx, caller, formID)
	if err != nil {
		return store.Form{}, nil, err
	}
	rows, err := s.store.ListFormResponses(ctx, form.ID)
	if err != nil {
		return store.Form{}, nil, fmt.Errorf("list responses: %w", err)
	}
	data, err := export.ResponsesCSV(form, rows)
	if err != nil {
		return store.Form{}, nil, fmt.Errorf("render csv: %w", err)
	}
	return form, data, nil
}

// JoinFormResult carries the schema plus the caller's own response document.
type JoinFormResult struct {
	Form     store.Form     `json:"form"`
	Response map[string]any `json:"response"`
}

// JoinForm is the HTTP flavor of joining: resolve the share code and hydrate
// the caller's response, creating an empty one on first access. Live editing
// then happens over the websocket.
func (s *Service) JoinForm(ctx context.Context, caller Session, shareCode string) (JoinFormResult, error) {
	form, err := s.store.GetFormByShareCode(ctx, shareCode)
	if err != nil {
		return JoinFormResult{}, notFoundError("no form found for this share code")
	}
	response, err := s.store.GetOrCreateResponse(ctx, form.ID, caller.UserID)
	if err != nil {
		return JoinFormResult{}, fmt.Errorf("hydrate response: %w", err)
	}
	values := response.Data
	if values == nil {
		values = map[string]any{}
	}
	return JoinFormResult{Form: form, Response: values}, nil
}
