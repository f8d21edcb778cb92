// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

// Package account authenticates against the gateway's auth service.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jcodagnone/geofoto/transport"
	"golang.org/x/oauth2"
)

const (
	pathLogin    = "/auth/login"
	pathRegister = "/auth/register"
	pathMe       = "/auth/me"
)

// ErrNoAccessToken is returned when the server answers a login without a token.
var ErrNoAccessToken = errors.New("login response carries no access token")

// Doer is the subset of transport.Client used by the Service.
type Doer interface {
	Get(ctx context.Context, path string, query url.Values, out any, opts ...transport.CallOption) error
	PostJSON(ctx context.Context, path string, query url.Values, body, out any, opts ...transport.CallOption) error
}

// Token is an access token issued by the auth service.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Source returns a token source that always yields t.
func (t *Token) Source() oauth2.TokenSource {
	tokenType := t.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}

	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: t.AccessToken, TokenType: tokenType})
}

// User is an account as reported by the auth service.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Registration is the answer to a successful Register.
type Registration struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// Service is the auth client.
type Service struct {
	client Doer
}

// NewService creates an auth service on top of client.
func NewService(client Doer) *Service {
	return &Service{client: client}
}

// Login exchanges credentials for an access token. Credentials travel as
// query parameters, which is what the auth service expects.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	query := url.Values{"username": {username}, "password": {password}}

	var token Token
	if err := s.client.PostJSON(ctx, pathLogin, query, nil, &token); err != nil {
		return nil, fmt.Errorf("logging in as %s: %w", username, err)
	}

	if token.AccessToken == "" {
		return nil, ErrNoAccessToken
	}

	return &token, nil
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, username, email, password string) (*Registration, error) {
	query := url.Values{"username": {username}, "email": {email}, "password": {password}}

	var resp Registration
	if err := s.client.PostJSON(ctx, pathRegister, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("registering %s: %w", username, err)
	}

	return &resp, nil
}

// CurrentUser returns the account the client is authenticated as.
func (s *Service) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := s.client.Get(ctx, pathMe, nil, &user); err != nil {
		return nil, fmt.Errorf("getting current user: %w", err)
	}

	return &user, nil
}

// DefaultTokenPath is where the CLI keeps the token of the last login.
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config dir: %w", err)
	}

	return filepath.Join(dir, "geofoto", "token.json"), nil
}

// SaveToken writes t to path, readable by the owner only.
func SaveToken(path string, t *Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}

	return nil
}

// LoadToken reads a token saved by SaveToken. A missing file is not an
// error: it returns nil.
func LoadToken(path string) (*Token, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by the user
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}

	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding token %s: %w", path, err)
	}

	if t.AccessToken == "" {
		return nil, nil
	}

	return &t, nil
}
