package store

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// FieldSpec describes one field of a form schema. Name is the stable key the
// collaborative response data is keyed by; it is unique within a form.
type FieldSpec struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Kind     string   `json:"kind"`
	Required bool     `json:"required"`
	Choices  []string `json:"choices,omitempty"`
}

// Field kinds accepted by form creation.
const (
	FieldKindText   = "text"
	FieldKindNumber = "number"
	FieldKindChoice = "choice"
)

// Form is an immutable schema: once created, its fields never change.
type Form struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"-"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	ShareCode   string      `json:"shareCode"`
	Fields      []FieldSpec `json:"fields"`
	CreatedAt   time.Time   `json:"-"`
}

// FormResponse is the durable per-(form, user) document that concurrent
// editors merge into. Data holds one value per field name.
type FormResponse struct {
	FormID       string
	UserID       string
	Data         map[string]any
	LastEditedBy string
	UpdatedAt    time.Time
}

// ResponseRow pairs a response document with the participant it belongs to,
// for owner-facing listings and exports.
type ResponseRow struct {
	UserID       string
	Username     string
	Data         map[string]any
	LastEditedBy string
	UpdatedAt    time.Time
}
