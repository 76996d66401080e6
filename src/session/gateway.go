// Package session wraps the external auth backend: token flows, profile
// operations and auth-state change notifications.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"dermalyze/src/app"
	cfg "dermalyze/src/configuration"
)

// Event is an auth-state transition pushed to subscribers.
type Event string

const (
	EventSignedIn         Event = "SIGNED_IN"
	EventSignedOut        Event = "SIGNED_OUT"
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
)

type (
	// Session is the opaque token bundle. The app never inspects it
	// beyond presence and the user id extracted from verified claims.
	Session struct {
		AccessToken  string
		RefreshToken string
		IDToken      string
		Expiry       time.Time
		UserID       string
	}

	// Callback receives auth-state transitions. The session argument is
	// nil for EventSignedOut.
	Callback func(event Event, session *Session)

	// Subscription is one registered callback. Unsubscribe detaches it.
	Subscription struct {
		id      int
		gateway *Gateway
	}

	Gateway struct {
		host         string
		clientID     string
		oidcProvider *oidc.Provider
		authConfig   *oauth2.Config
		httpClient   *http.Client

		mu          sync.Mutex
		subscribers map[int]Callback
		nextSub     int
	}

	// UserUpdate mirrors the backend's updateUser payload: either field
	// may be set independently.
	UserUpdate struct {
		Password string         `json:"password,omitempty"`
		Data     map[string]any `json:"data,omitempty"`
	}
)

// NewGateway connects to the auth backend. OIDC discovery failure is not
// fatal: token flows fall back to the conventional /token endpoint and
// ID-token verification is skipped (GetUser then asks the backend).
func NewGateway(config cfg.AuthProperties) *Gateway {
	gateway := &Gateway{
		host:        config.Host,
		clientID:    config.ID,
		httpClient:  &http.Client{Timeout: config.ReadTimeout},
		subscribers: make(map[int]Callback),
	}

	endpoint := oauth2.Endpoint{TokenURL: fmt.Sprintf("%s/token", config.Host)}
	provider, err := oidc.NewProvider(context.Background(), config.Host)
	if err != nil {
		log.Warn().Err(err).Str("host", config.Host).Msg("OIDC discovery failed, using conventional endpoints")
	} else {
		gateway.oidcProvider = provider
		endpoint = provider.Endpoint()
	}

	gateway.authConfig = &oauth2.Config{
		ClientID:     config.ID,
		ClientSecret: config.Secret,
		RedirectURL:  config.Redirect,
		Endpoint:     endpoint,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}
	return gateway
}

// OnAuthStateChange registers a callback for subsequent auth transitions.
func (g *Gateway) OnAuthStateChange(callback Callback) *Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextSub++
	id := g.nextSub
	g.subscribers[id] = callback
	return &Subscription{id: id, gateway: g}
}

func (s *Subscription) Unsubscribe() {
	s.gateway.mu.Lock()
	defer s.gateway.mu.Unlock()
	delete(s.gateway.subscribers, s.id)
}

// Notify fans an auth event out to every subscriber. Exposed so the HTTP
// layer can raise PASSWORD_RECOVERY when the recovery fragment arrives.
func (g *Gateway) Notify(event Event, session *Session) {
	g.mu.Lock()
	callbacks := make([]Callback, 0, len(g.subscribers))
	for _, callback := range g.subscribers {
		callbacks = append(callbacks, callback)
	}
	g.mu.Unlock()
	for _, callback := range callbacks {
		callback(event, session)
	}
}

// SignInWithPassword exchanges email+password for a session via the
// backend's token endpoint.
func (g *Gateway) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	token, err := g.authConfig.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	session, err := g.sessionFromToken(ctx, token)
	if err != nil {
		return nil, err
	}
	g.Notify(EventSignedIn, session)
	return session, nil
}

// GetSession validates previously issued tokens and rebuilds the session.
// Returns nil without error when there is no usable session.
func (g *Gateway) GetSession(ctx context.Context, accessToken, refreshToken, idToken string) (*Session, error) {
	if accessToken == "" {
		return nil, nil
	}
	session := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IDToken:      idToken,
	}
	if g.oidcProvider != nil && idToken != "" {
		verifier := g.oidcProvider.Verifier(&oidc.Config{ClientID: g.clientID})
		verified, err := verifier.Verify(ctx, idToken)
		if err != nil {
			// Expired or tampered token: treat as signed out.
			return nil, nil
		}
		session.UserID = verified.Subject
		session.Expiry = verified.Expiry
		return session, nil
	}
	user, err := g.GetUser(ctx, session)
	if err != nil {
		return nil, nil
	}
	session.UserID = user.ID
	return session, nil
}

// SignUp registers a new account. The backend sends the verification mail.
func (g *Gateway) SignUp(ctx context.Context, email, password, name string) error {
	payload := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]any{"name": name},
	}
	return g.post(ctx, "/signup", "", payload)
}

// SignOut revokes the session at the backend and notifies subscribers.
// The SIGNED_OUT event is raised even if revocation fails: locally the
// session is gone either way.
func (g *Gateway) SignOut(ctx context.Context, session *Session) error {
	var err error
	if session != nil {
		err = g.post(ctx, "/logout", session.AccessToken, nil)
		if err != nil {
			log.Warn().Err(err).Msg("sign-out revocation failed")
		}
	}
	g.Notify(EventSignedOut, nil)
	return err
}

// ResetPasswordForEmail asks the backend to mail a recovery link.
func (g *Gateway) ResetPasswordForEmail(ctx context.Context, email string) error {
	return g.post(ctx, "/recover", "", map[string]any{"email": email})
}

// Resend re-triggers a signup or recovery mail.
func (g *Gateway) Resend(ctx context.Context, kind, email string) error {
	return g.post(ctx, "/resend", "", map[string]any{"type": kind, "email": email})
}

// UpdateUser changes the password and/or profile metadata of the session's
// user.
func (g *Gateway) UpdateUser(ctx context.Context, session *Session, update UserUpdate) error {
	if session == nil {
		return fmt.Errorf("update user: no active session")
	}
	return g.request(ctx, http.MethodPut, "/user", session.AccessToken, update, nil)
}

// GetUser fetches the profile of the session's user. Verified ID-token
// claims are preferred; without a verifier the backend is asked directly.
func (g *Gateway) GetUser(ctx context.Context, session *Session) (*app.User, error) {
	if session == nil {
		return nil, fmt.Errorf("get user: no active session")
	}
	if g.oidcProvider != nil && session.IDToken != "" {
		verifier := g.oidcProvider.Verifier(&oidc.Config{ClientID: g.clientID})
		idToken, err := verifier.Verify(ctx, session.IDToken)
		if err != nil {
			return nil, fmt.Errorf("verify ID token: %w", err)
		}
		var claims struct {
			Email    string `json:"email"`
			Name     string `json:"name"`
			Picture  string `json:"picture"`
			Verified bool   `json:"email_verified"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("parse ID token claims: %w", err)
		}
		return &app.User{
			ID:       idToken.Subject,
			Email:    claims.Email,
			Name:     claims.Name,
			Picture:  claims.Picture,
			Verified: claims.Verified,
		}, nil
	}

	user := &app.User{}
	if err := g.request(ctx, http.MethodGet, "/user", session.AccessToken, nil, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteAccount removes the user at the auth backend. Storage and record
// cascades are the caller's responsibility and must run first.
func (g *Gateway) DeleteAccount(ctx context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("delete account: no active session")
	}
	if err := g.request(ctx, http.MethodDelete, "/user", session.AccessToken, nil, nil); err != nil {
		return err
	}
	g.Notify(EventSignedOut, nil)
	return nil
}

func (g *Gateway) sessionFromToken(ctx context.Context, token *oauth2.Token) (*Session, error) {
	session := &Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if rawIDToken, ok := token.Extra("id_token").(string); ok {
		session.IDToken = rawIDToken
	}
	if g.oidcProvider != nil && session.IDToken != "" {
		verifier := g.oidcProvider.Verifier(&oidc.Config{ClientID: g.clientID})
		idToken, err := verifier.Verify(ctx, session.IDToken)
		if err != nil {
			return nil, fmt.Errorf("verify ID token: %w", err)
		}
		session.UserID = idToken.Subject
	}
	return session, nil
}

func (g *Gateway) post(ctx context.Context, path, accessToken string, payload any) error {
	return g.request(ctx, http.MethodPost, path, accessToken, payload, nil)
}

func (g *Gateway) request(ctx context.Context, method, path, accessToken string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.host+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth backend %s: %w", path, err)
	}
	defer resp.Body.Close()

	responseBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("auth backend %s returned %d: %s", path, resp.StatusCode, string(responseBytes))
	}
	if out != nil {
		if err := json.Unmarshal(responseBytes, out); err != nil {
			return fmt.Errorf("unmarshal %s response: %w", path, err)
		}
	}
	return nil
}
