package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"collabform/api/internal/store"
)

type fakeUserStore struct {
	users map[string]store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]store.User)}
}

func (f *fakeUserStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	user, ok := f.users[username]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.Username] = user
	return nil
}

func TestRegisterAndSignIn(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	user, err := svc.Register(ctx, "dana", "correct-horse", "admin")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.ID == "" || user.Role != "admin" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.PasswordHash == "correct-horse" {
		t.Fatal("password stored in the clear")
	}

	signed, err := svc.SignIn(ctx, "dana", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if signed.ID != user.ID {
		t.Errorf("SignIn returned wrong user: %+v", signed)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "dana", "correct-horse", "user"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.SignIn(ctx, "dana", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "", "password123", "user"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty username, got %v", err)
	}
	if _, err := svc.Register(ctx, "dana", "short", "user"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for short password, got %v", err)
	}
	if _, err := svc.Register(ctx, "dana", "password123", "superuser"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad role, got %v", err)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "dana", "password123", "user"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(ctx, "dana", "password456", "user"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
}
