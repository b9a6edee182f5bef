package auth

import (
	"context"
	"errors"

	"attendance-console-go/models"
)

var (
	// ErrInvalidCredentials is returned when neither the primary provider nor the roster accepts a login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrProviderUnavailable is returned by a primary provider that cannot be reached or is not configured.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrUnauthorized is returned for missing, invalid or revoked session tokens.
	ErrUnauthorized = errors.New("unauthorized")
)

// Session provider names.
const (
	ProviderPrimary = "primary"
	ProviderMock    = "mock"
)

// Provider is the primary identity provider.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (models.User, error)
	SignOut(ctx context.Context) error
	// OnAuthStateChanged calls fn with the current user (nil when signed out) right away
	// and again on every change. The returned func stops notifications.
	OnAuthStateChanged(fn func(*models.User)) (unsubscribe func())
}

// Unavailable is the provider used when no primary identity service is configured.
type Unavailable struct{}

func (Unavailable) SignIn(context.Context, string, string) (models.User, error) {
	return models.User{}, ErrProviderUnavailable
}

func (Unavailable) SignOut(context.Context) error { return nil }

func (Unavailable) OnAuthStateChanged(fn func(*models.User)) func() {
	fn(nil)
	return func() {}
}
