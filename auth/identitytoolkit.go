package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"attendance-console-go/models"
)

// DefaultIdentityEndpoint is the public Identity Toolkit REST endpoint.
const DefaultIdentityEndpoint = "https://identitytoolkit.googleapis.com"

// primarySessionKey is the local storage key holding the signed-in primary user.
const primarySessionKey = "primaryUser"

// IdentityToolkit signs in with email and password against the Identity Toolkit REST API.
// The signed-in user is persisted locally so a restarted process resumes the session.
type IdentityToolkit struct {
	apiKey   string
	endpoint string
	client   *http.Client
	kv       KV
	log      *zap.Logger

	mu        sync.Mutex
	current   *models.User
	listeners map[int]func(*models.User)
	nextID    int
}

// NewIdentityToolkit creates the provider. An empty endpoint uses DefaultIdentityEndpoint.
func NewIdentityToolkit(apiKey, endpoint string, timeout time.Duration, kv KV, log *zap.Logger) *IdentityToolkit {
	if endpoint == "" {
		endpoint = DefaultIdentityEndpoint
	}
	return &IdentityToolkit{
		apiKey:    apiKey,
		endpoint:  strings.TrimRight(endpoint, "/"),
		client:    &http.Client{Timeout: timeout},
		kv:        kv,
		log:       log,
		listeners: map[int]func(*models.User){},
	}
}

// Restore loads a previously persisted session.
func (p *IdentityToolkit) Restore(ctx context.Context) error {
	raw, ok, err := p.kv.Get(ctx, primarySessionKey)
	if err != nil || !ok {
		return err
	}
	var u models.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		p.log.Warn("dropping corrupt primary session", zap.Error(err))
		return p.kv.Delete(ctx, primarySessionKey)
	}
	p.set(&u)
	return nil
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	IDToken     string `json:"idToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn verifies the credentials with the identity service.
func (p *IdentityToolkit) SignIn(ctx context.Context, email, password string) (models.User, error) {
	body, err := json.Marshal(signInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return models.User{}, err
	}
	u := p.endpoint + "/v1/accounts:signInWithPassword?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.User{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		if resp.StatusCode == http.StatusBadRequest {
			// EMAIL_NOT_FOUND, INVALID_PASSWORD, INVALID_LOGIN_CREDENTIALS, USER_DISABLED ...
			return models.User{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, er.Error.Message)
		}
		return models.User{}, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, er.Error.Message)
	}

	var sr signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return models.User{}, fmt.Errorf("%w: malformed response: %v", ErrProviderUnavailable, err)
	}
	user := models.User{
		UID:         sr.LocalID,
		Email:       sr.Email,
		DisplayName: sr.DisplayName,
		Provider:    ProviderPrimary,
	}

	raw, err := json.Marshal(user)
	if err != nil {
		return models.User{}, err
	}
	if err := p.kv.Set(ctx, primarySessionKey, string(raw)); err != nil {
		return models.User{}, fmt.Errorf("failed to persist session: %w", err)
	}
	p.set(&user)
	return user, nil
}

// SignOut forgets the persisted session.
func (p *IdentityToolkit) SignOut(ctx context.Context) error {
	if err := p.kv.Delete(ctx, primarySessionKey); err != nil {
		return err
	}
	p.set(nil)
	return nil
}

// OnAuthStateChanged registers fn and immediately reports the current user.
func (p *IdentityToolkit) OnAuthStateChanged(fn func(*models.User)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := copyUser(p.current)
	p.mu.Unlock()

	fn(current)
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *IdentityToolkit) set(u *models.User) {
	p.mu.Lock()
	p.current = copyUser(u)
	fns := make([]func(*models.User), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(copyUser(u))
	}
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
