package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"attendance-console-go/models"
)

// Gateway is the console's session context: a primary identity provider with the
// demo roster as fallback. It is created at process start and closed at exit.
type Gateway struct {
	primary Provider
	mock    *MockStore
	log     *zap.Logger

	mu      sync.RWMutex
	current *models.User
	loading bool
	changed chan struct{}

	ready       chan struct{}
	readyOnce   sync.Once
	unsubscribe func()
}

// NewGateway creates a gateway. It reports Loading until Start has resolved the session.
func NewGateway(primary Provider, mock *MockStore, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		primary: primary,
		mock:    mock,
		log:     log,
		loading: true,
		changed: make(chan struct{}),
		ready:   make(chan struct{}),
	}
}

// Start subscribes to the primary provider's session state. The first notification
// resolves the startup session: a live primary session wins, otherwise a persisted
// demo session is resumed.
func (g *Gateway) Start(ctx context.Context) {
	g.unsubscribe = g.primary.OnAuthStateChanged(func(u *models.User) {
		g.resolve(ctx, u)
	})
}

// Close stops listening to the primary provider.
func (g *Gateway) Close() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
}

func (g *Gateway) resolve(ctx context.Context, u *models.User) {
	var next *models.User
	if u != nil {
		pu := *u
		pu.Provider = ProviderPrimary
		if pu.DisplayName == "" {
			pu.DisplayName = strings.SplitN(pu.Email, "@", 2)[0]
		}
		next = &pu
	} else {
		acct, ok, err := g.mock.CurrentUser(ctx)
		if err != nil {
			g.log.Warn("could not read demo session", zap.Error(err))
		}
		if ok {
			mu := mockSession(acct)
			next = &mu
		}
	}

	g.mu.Lock()
	g.setCurrent(next)
	g.loading = false
	g.mu.Unlock()
	g.readyOnce.Do(func() { close(g.ready) })
}

// Login tries the primary provider first and falls back to the demo roster on any failure.
func (g *Gateway) Login(ctx context.Context, email, password string) (models.User, error) {
	u, err := g.primary.SignIn(ctx, email, password)
	if err == nil {
		g.resolve(ctx, &u)
		cur, _ := g.Current()
		return cur, nil
	}
	g.log.Info("primary sign-in failed, trying demo roster", zap.String("email", email), zap.Error(err))

	acct, err := g.mock.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, fmt.Errorf("demo sign-in failed: %w", err)
	}
	session := mockSession(acct)
	g.mu.Lock()
	g.setCurrent(&session)
	g.mu.Unlock()
	return session, nil
}

// Logout clears both the demo marker and the primary session. Calling it while
// signed out is a no-op.
func (g *Gateway) Logout(ctx context.Context) error {
	if err := g.mock.Logout(ctx); err != nil {
		g.log.Error("failed to clear demo session", zap.Error(err))
	}
	if err := g.primary.SignOut(ctx); err != nil {
		g.log.Error("primary sign-out failed", zap.Error(err))
	}
	g.mu.Lock()
	g.setCurrent(nil)
	g.mu.Unlock()
	return nil
}

// setCurrent swaps the session and wakes everyone waiting on Changed. g.mu must be held.
func (g *Gateway) setCurrent(u *models.User) {
	g.current = u
	close(g.changed)
	g.changed = make(chan struct{})
}

// Changed returns a channel that is closed at the next session change. Callers
// re-read Current after it fires and call Changed again for the following one.
func (g *Gateway) Changed() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.changed
}

// Current returns the signed-in user.
func (g *Gateway) Current() (models.User, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.current == nil {
		return models.User{}, false
	}
	return *g.current, true
}

// Loading reports whether the startup session is still being resolved.
func (g *Gateway) Loading() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loading
}

// Ready is closed once the startup session has been resolved.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}
