package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"attendance-console-go/models"
)

// mockSessionKey is the local storage key holding the signed-in demo account.
const mockSessionKey = "mockUser"

// KV is the durable local storage the credential store persists its session marker in.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MockAccount is one entry of the fixed demo roster.
type MockAccount struct {
	Email    string
	Password string
	Name     string
}

// DefaultRoster is the built-in demo roster.
// Plain-text passwords: this is a demo fallback, not production authentication.
var DefaultRoster = []MockAccount{
	{Email: "admin1@school.com", Password: "123", Name: "Admin 1"},
	{Email: "omar@school.com", Password: "123", Name: "Omar"},
	{Email: "mohamed@school.com", Password: "123", Name: "Mohamed"},
}

// marker is what gets persisted for the current demo session. The password is never stored.
type marker struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// MockStore authenticates against a fixed roster by exact match.
type MockStore struct {
	kv     KV
	roster []MockAccount
}

// NewMockStore creates a credential store persisting its marker in kv.
func NewMockStore(kv KV, roster []MockAccount) *MockStore {
	return &MockStore{kv: kv, roster: roster}
}

// Login checks the roster and persists the session marker on success.
// The marker replaces any previous one, so at most one demo session exists.
func (m *MockStore) Login(ctx context.Context, email, password string) (MockAccount, error) {
	for _, acct := range m.roster {
		if acct.Email == email && acct.Password == password {
			raw, err := json.Marshal(marker{Email: acct.Email, Name: acct.Name})
			if err != nil {
				return MockAccount{}, err
			}
			if err := m.kv.Set(ctx, mockSessionKey, string(raw)); err != nil {
				return MockAccount{}, fmt.Errorf("failed to persist demo session: %w", err)
			}
			return acct, nil
		}
	}
	return MockAccount{}, ErrInvalidCredentials
}

// Logout removes the session marker.
func (m *MockStore) Logout(ctx context.Context) error {
	return m.kv.Delete(ctx, mockSessionKey)
}

// CurrentUser returns the account recorded by the session marker, if any.
func (m *MockStore) CurrentUser(ctx context.Context) (MockAccount, bool, error) {
	raw, ok, err := m.kv.Get(ctx, mockSessionKey)
	if err != nil || !ok {
		return MockAccount{}, false, err
	}
	var mk marker
	if err := json.Unmarshal([]byte(raw), &mk); err != nil {
		return MockAccount{}, false, fmt.Errorf("corrupt demo session marker: %w", err)
	}
	return MockAccount{Email: mk.Email, Name: mk.Name}, true, nil
}

// mockSession builds the session for a demo account. The uid is prefixed so it can
// never collide with an account id issued by the primary provider.
func mockSession(acct MockAccount) models.User {
	return models.User{
		UID:         "mock-" + acct.Email,
		Email:       acct.Email,
		DisplayName: acct.Name,
		Provider:    ProviderMock,
	}
}
