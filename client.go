// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"
)

var (
	_ oauth2.TokenSource = (*installationTokenSource)(nil)
	_ oauth2.TokenSource = (*appTokenSource)(nil)
)

// TokenClient returns [github.Client] which authenticates all requests with
// the given token. Token may be a personal access token or an installation
// token obtained elsewhere. Token is never minted, cached or renewed.
func (m *Manager) TokenClient(ctx context.Context, token string) (*github.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token cannot be empty", ErrInvalidInput)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	base := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: m.next})
	hc := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	return newGitHubClient(hc, m.config, m.ua)
}

// AppClient returns [github.Client] which authenticates as app using JWT.
// JWT is re-used while it is valid. Installation token cache is not used.
func (m *Manager) AppClient() (*github.Client, error) {
	return newGitHubClient(&http.Client{Transport: m.AppTransport()}, m.config, m.ua)
}

// InstallationClient returns [github.Client] which authenticates as
// installation. Tokens are cached and renewed by [Manager].
func (m *Manager) InstallationClient(installationID uint64) (*github.Client, error) {
	t, err := m.Transport(installationID)
	if err != nil {
		return nil, err
	}
	return newGitHubClient(&http.Client{Transport: t}, m.config, m.ua)
}

// TokenSource returns [oauth2.TokenSource] for the installation. Tokens are
// obtained from [Manager.InstallationToken] with ctx. Expiry of the returned
// tokens accounts for the refresh buffer of the cache.
func (m *Manager) TokenSource(ctx context.Context, installationID uint64) oauth2.TokenSource {
	if ctx == nil {
		ctx = context.Background()
	}
	return &installationTokenSource{ctx: ctx, m: m, id: installationID}
}

// AppTokenSource returns [oauth2.TokenSource] which returns app JWT.
func (m *Manager) AppTokenSource(ctx context.Context) oauth2.TokenSource {
	if ctx == nil {
		ctx = context.Background()
	}
	return &appTokenSource{ctx: ctx, m: m}
}

type installationTokenSource struct {
	ctx context.Context
	m   *Manager
	id  uint64
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.m.installationToken(s.ctx, s.id)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: token.Token.Reveal(),
		TokenType:   "Bearer",
		Expiry:      token.ExpiresAt.Add(-s.m.config.refreshBuffer),
	}, nil
}

type appTokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s *appTokenSource) Token() (*oauth2.Token, error) {
	bearer, err := s.m.JWT(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: bearer.Token,
		TokenType:   "Bearer",
		// Manager replaces JWT valid for less than a minute.
		Expiry: bearer.Exp.Add(-time.Minute),
	}, nil
}
