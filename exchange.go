// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/go-github/v74/github"
)

// defaultTokenLifetime is used when GitHub does not report token expiry.
const defaultTokenLifetime = time.Hour

// exchangedToken is installation access token returned by GitHub.
type exchangedToken struct {
	Token     string
	ExpiresAt time.Time
}

// installationScope limits repositories and permissions of
// installation access tokens.
type installationScope struct {
	repos       []string
	permissions *github.InstallationPermissions
}

// options returns token request options or nil if scope is empty.
func (s installationScope) options() *github.InstallationTokenOptions {
	if len(s.repos) == 0 && s.permissions == nil {
		return nil
	}
	return &github.InstallationTokenOptions{
		Repositories: s.repos,
		Permissions:  s.permissions,
	}
}

// installationPermissions converts scope:level pairs to
// [github.InstallationPermissions]. Unknown scopes are rejected.
func installationPermissions(scopes map[string]string) (*github.InstallationPermissions, error) {
	if len(scopes) == 0 {
		return nil, nil
	}

	buf, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode permissions: %w", err)
	}

	p := &github.InstallationPermissions{}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	if err = dec.Decode(p); err != nil {
		return nil, fmt.Errorf("unknown permissions: %w", err)
	}
	return p, nil
}

// tokenExchanger exchanges app JWT for installation access tokens.
type tokenExchanger interface {
	Exchange(ctx context.Context, jwt string, installationID uint64, scope installationScope) (exchangedToken, error)
	Revoke(ctx context.Context, token string) error
}

var _ tokenExchanger = (*githubExchanger)(nil)

// githubExchanger uses GitHub REST API to create and revoke
// installation access tokens.
type githubExchanger struct {
	config  *Config
	next    http.RoundTripper
	ua      string
	limiter *RateLimiter
	now     func() time.Time
}

// Exchange creates a new installation access token.
//
// See https://docs.github.com/en/rest/apps/apps#create-an-installation-access-token-for-an-app
func (e *githubExchanger) Exchange(ctx context.Context, jwt string, installationID uint64, scope installationScope) (exchangedToken, error) {
	if installationID == 0 || installationID > math.MaxInt64 {
		return exchangedToken{}, fmt.Errorf("%w: invalid installation id %d", ErrInvalidInput, installationID)
	}

	client, err := newGitHubClient(&http.Client{Transport: e.next}, e.config, e.ua)
	if err != nil {
		return exchangedToken{}, err
	}

	token, resp, err := client.WithAuthToken(jwt).Apps.CreateInstallationToken(ctx, int64(installationID), scope.options())
	if resp != nil && resp.Response != nil && e.limiter != nil {
		e.limiter.UpdateFromHeaders(resp.Header)
	}
	if err != nil {
		return exchangedToken{}, classifyError(err, e.now())
	}

	if token.GetToken() == "" {
		return exchangedToken{}, fmt.Errorf("%w: token missing from response", ErrServer)
	}

	exp := token.GetExpiresAt().Time
	if exp.IsZero() {
		exp = e.now().Add(defaultTokenLifetime)
	}
	return exchangedToken{Token: token.GetToken(), ExpiresAt: exp}, nil
}

// Revoke revokes the installation access token.
//
// See https://docs.github.com/en/rest/apps/installations#revoke-an-installation-access-token
func (e *githubExchanger) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: token cannot be empty", ErrInvalidInput)
	}

	client, err := newGitHubClient(&http.Client{Transport: e.next}, e.config, e.ua)
	if err != nil {
		return err
	}

	resp, err := client.WithAuthToken(token).Apps.RevokeInstallationToken(ctx)
	if resp != nil && resp.Response != nil && e.limiter != nil {
		e.limiter.UpdateFromHeaders(resp.Header)
	}
	if err != nil {
		return classifyError(err, e.now())
	}
	return nil
}

// newGitHubClient returns a [github.Client] for the API configured by c.
func newGitHubClient(hc *http.Client, c *Config, ua string) (*github.Client, error) {
	client := github.NewClient(hc)
	if c.IsEnterprise() {
		var err error
		client, err = client.WithEnterpriseURLs(c.APIBaseURL(), c.UploadURL())
		if err != nil {
			return nil, fmt.Errorf("%w: invalid enterprise url: %w", ErrConfiguration, err)
		}
	}
	if ua != "" {
		client.UserAgent = ua
	}
	return client, nil
}

// classifyError maps errors returned by go-github to errors of this package.
// Returned errors never include request headers.
func classifyError(err error, now time.Time) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse

	switch {
	case errors.As(err, &rateErr):
		return &RateLimitError{
			Reset:      rateErr.Rate.Reset.Time,
			StatusCode: statusCode(rateErr.Response),
		}
	case errors.As(err, &abuseErr):
		rl := &RateLimitError{StatusCode: statusCode(abuseErr.Response)}
		if d := abuseErr.GetRetryAfter(); d > 0 {
			rl.Reset = now.Add(d)
		}
		return rl
	case errors.As(err, &respErr):
		return &APIError{
			StatusCode: statusCode(respErr.Response),
			Message:    respErr.Message,
		}
	case errors.Is(err, context.Canceled):
		return err
	default:
		// Transport errors and timeouts.
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
}

func statusCode(r *http.Response) int {
	if r == nil {
		return 0
	}
	return r.StatusCode
}
