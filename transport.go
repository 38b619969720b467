// SPDX-FileCopyrightText: Copyright 2023 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/release-regent/go-githubapp/internal/api"
)

var (
	_ http.RoundTripper = (*Transport)(nil)
)

// uploadsHost is upload API host for github.com.
const uploadsHost = "uploads.github.com"

// Transport provides a [http.RoundTripper] by wrapping an existing
// http.RoundTripper and authenticates requests as a GitHub App or as a
// GitHub app installation. Transport is obtained from [Manager.Transport]
// or [Manager.AppTransport].
//
// 'Authorization' header is always populated with a suitable installation
// token or JWT. If it already exists, it is replaced. Installation tokens
// are obtained from [Manager], thus are cached and renewed when required.
// When API responds with 401 Unauthorized, cached installation token is
// removed, so that next request uses a new token.
type Transport struct {
	m              *Manager
	installationID uint64 // zero when authenticating as app
	next           http.RoundTripper
}

// Transport returns [Transport] which authenticates requests as installation.
func (m *Manager) Transport(installationID uint64) (*Transport, error) {
	if installationID == 0 {
		return nil, fmt.Errorf("%w: installation id cannot be zero", ErrInvalidInput)
	}
	return &Transport{m: m, installationID: installationID, next: m.next}, nil
}

// AppTransport returns [Transport] which authenticates requests as app using JWT.
func (m *Manager) AppTransport() *Transport {
	return &Transport{m: m, next: m.next}
}

// InstallationID returns installation id used by the transport. This is zero
// if transport authenticates as app.
func (t *Transport) InstallationID() uint64 {
	return t.installationID
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("githubapp(RoundTrip): request is nil")
	}

	if req.URL == nil {
		closeBody(req)
		return nil, errors.New("githubapp(RoundTrip): request url is nil")
	}

	// Never send credentials to unknown hosts.
	if !slices.Contains(t.m.hosts, strings.ToLower(req.URL.Host)) {
		closeBody(req)
		return nil,
			fmt.Errorf("githubapp(RoundTrip): Host for round tripper(%s) does not match host for request(%s)",
				strings.Join(t.m.hosts, ","), req.URL.Host)
	}

	ctx := req.Context()
	clone := cloneRequest(req) // RoundTripper should not modify request

	// Use fallback User Agent header if it is missing.
	if clone.Header.Get(api.UAHeader) == "" {
		clone.Header.Set(api.UAHeader, t.m.ua)
	}

	if t.installationID == 0 {
		jwt, err := t.m.JWT(ctx)
		if err != nil {
			closeBody(req)
			return nil, err
		}
		clone.Header.Set(api.AuthzHeader, api.AuthzHeaderValue(jwt.Token))
	} else {
		token, err := t.m.installationToken(ctx, t.installationID)
		if err != nil {
			closeBody(req)
			return nil, err
		}
		clone.Header.Set(api.AuthzHeader, api.AuthzHeaderValue(token.Token.Reveal()))
	}

	//nolint:wrapcheck // don't wrap errors returned by underlying round-tripper.
	resp, err := t.next.RoundTrip(clone)
	if err == nil && resp.StatusCode == http.StatusUnauthorized && t.installationID != 0 {
		if t.m.cache.Remove(t.installationID) {
			t.m.logger.LogAttrs(ctx, slog.LevelWarn, "Removed installation token rejected by API",
				slog.Uint64("installation_id", t.installationID))
		}
	}
	return resp, err
}

// apiHosts returns hosts [Transport] is allowed to authenticate.
func apiHosts(c *Config) ([]string, error) {
	u, err := url.Parse(c.APIBaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}

	hosts := []string{strings.ToLower(u.Host)}
	if !c.IsEnterprise() {
		hosts = append(hosts, uploadsHost)
	}
	return hosts, nil
}

// closeBody closes request body if any. RoundTripper must always
// close the body, including on errors.
func closeBody(r *http.Request) {
	if r.Body != nil {
		_ = r.Body.Close()
	}
}

// cloneRequest returns a clone of the provided *http.Request.
// The clone is a shallow copy of the struct and its shallow copy of
// Header map.
func cloneRequest(r *http.Request) *http.Request {
	// shallow copy of the struct
	clone := new(http.Request)
	*clone = *r

	// shallow copy of the Headers.
	clone.Header = maps.Clone(r.Header)
	if clone.Header == nil {
		clone.Header = make(http.Header)
	}
	return clone
}
