package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"collabform/api/internal/util"
)

// shareCodeAttempts bounds the collision-retry loop during form creation.
const shareCodeAttempts = 10

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// CreateForm inserts the form together with the owner's empty response in one
// transaction, picking a share code that does not collide with an existing
// form. The returned form carries the generated id and share code.
func (s *PostgresStore) CreateForm(ctx context.Context, form Form) (Form, error) {
	fieldsJSON, err := json.Marshal(form.Fields)
	if err != nil {
		return Form{}, fmt.Errorf("marshal fields: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Form{}, fmt.Errorf("begin create form tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var shareCode string
	for attempt := 0; ; attempt++ {
		if attempt == shareCodeAttempts {
			return Form{}, errors.New("share code space exhausted")
		}
		shareCode = util.NewShareCode()
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM forms WHERE share_code = $1)`, shareCode).Scan(&exists); err != nil {
			return Form{}, fmt.Errorf("check share code: %w", err)
		}
		if !exists {
			break
		}
	}

	form.ID = util.NewID("frm")
	form.ShareCode = shareCode
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO forms (id, owner_id, name, description, fields, share_code)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING created_at
	`, form.ID, form.OwnerID, form.Name, form.Description, string(fieldsJSON), form.ShareCode).Scan(&form.CreatedAt); err != nil {
		return Form{}, fmt.Errorf("insert form: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO form_responses (form_id, user_id, data)
		VALUES ($1, $2, '{}'::jsonb)
	`, form.ID, form.OwnerID); err != nil {
		return Form{}, fmt.Errorf("insert owner response: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Form{}, fmt.Errorf("commit create form: %w", err)
	}
	return form, nil
}

func (s *PostgresStore) GetFormByID(ctx context.Context, formID string) (Form, error) {
	return s.scanForm(s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, fields, share_code, created_at
		FROM forms
		WHERE id = $1
	`, formID))
}

func (s *PostgresStore) GetFormByShareCode(ctx context.Context, shareCode string) (Form, error) {
	return s.scanForm(s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, fields, share_code, created_at
		FROM forms
		WHERE share_code = $1
	`, shareCode))
}

func (s *PostgresStore) scanForm(row *sql.Row) (Form, error) {
	var form Form
	var fieldsJSON []byte
	err := row.Scan(&form.ID, &form.OwnerID, &form.Name, &form.Description, &fieldsJSON, &form.ShareCode, &form.CreatedAt)
	if err != nil {
		return Form{}, err
	}
	if err := json.Unmarshal(fieldsJSON, &form.Fields); err != nil {
		return Form{}, fmt.Errorf("unmarshal fields: %w", err)
	}
	return form, nil
}

func (s *PostgresStore) ListFormsByOwner(ctx context.Context, ownerID string) ([]Form, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, description, fields, share_code, created_at
		FROM forms
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	forms := make([]Form, 0)
	for rows.Next() {
		var form Form
		var fieldsJSON []byte
		if err := rows.Scan(&form.ID, &form.OwnerID, &form.Name, &form.Description, &fieldsJSON, &form.ShareCode, &form.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		if err := json.Unmarshal(fieldsJSON, &form.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
		forms = append(forms, form)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}
	return forms, nil
}

// GetOrCreateResponse returns the (form, user) response document, creating an
// empty one if none exists. The upsert makes concurrent first access from two
// connections converge on a single row without surfacing a conflict error.
func (s *PostgresStore) GetOrCreateResponse(ctx context.Context, formID, userID string) (FormResponse, error) {
	response := FormResponse{FormID: formID, UserID: userID}
	var dataJSON []byte
	var lastEditedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO form_responses (form_id, user_id, data)
		VALUES ($1, $2, '{}'::jsonb)
		ON CONFLICT (form_id, user_id) DO UPDATE SET updated_at = NOW()
		RETURNING data, last_edited_by, updated_at
	`, formID, userID).Scan(&dataJSON, &lastEditedBy, &response.UpdatedAt)
	if err != nil {
		return FormResponse{}, fmt.Errorf("get or create response: %w", err)
	}
	if err := json.Unmarshal(dataJSON, &response.Data); err != nil {
		return FormResponse{}, fmt.Errorf("unmarshal response data: %w", err)
	}
	response.LastEditedBy = lastEditedBy.String
	return response, nil
}

// ListFormResponses returns every participant's response document for a form,
// ordered by username.
func (s *PostgresStore) ListFormResponses(ctx context.Context, formID string) ([]ResponseRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.user_id, u.username, r.data, r.last_edited_by, r.updated_at
		FROM form_responses r
		JOIN users u ON u.id = r.user_id
		WHERE r.form_id = $1
		ORDER BY u.username
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	result := make([]ResponseRow, 0)
	for rows.Next() {
		var row ResponseRow
		var dataJSON []byte
		var lastEditedBy sql.NullString
		if err := rows.Scan(&row.UserID, &row.Username, &dataJSON, &lastEditedBy, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &row.Data); err != nil {
			return nil, fmt.Errorf("unmarshal response data: %w", err)
		}
		row.LastEditedBy = lastEditedBy.String
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return result, nil
}

// MergeResponseField upserts a single field value into the response document.
// The JSONB || merge touches only the given key; the write that reaches the
// database last wins for that key.
func (s *PostgresStore) MergeResponseField(ctx context.Context, formID, userID, fieldName string, value any, editedBy string) (map[string]any, error) {
	patch, err := json.Marshal(map[string]any{fieldName: value})
	if err != nil {
		return nil, fmt.Errorf("marshal field patch: %w", err)
	}

	var dataJSON []byte
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO form_responses (form_id, user_id, data, last_edited_by)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (form_id, user_id) DO UPDATE SET
			data = form_responses.data || EXCLUDED.data,
			last_edited_by = EXCLUDED.last_edited_by,
			updated_at = NOW()
		RETURNING data
	`, formID, userID, string(patch), editedBy).Scan(&dataJSON)
	if err != nil {
		return nil, fmt.Errorf("merge response field: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(dataJSON, &data); err != nil {
		return nil, fmt.Errorf("unmarshal merged data: %w", err)
	}
	return data, nil
}
