// SPDX-FileCopyrightText: Copyright 2023 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/release-regent/go-githubapp/internal/api"
	"github.com/release-regent/go-githubapp/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory GitHub API. Installation token requests
// return tokens "ghs_1", "ghs_2"... All other requests are passed to handler.
type fakeAPI struct {
	exchanges atomic.Int32
	last      atomic.Pointer[http.Request] // last non token request
	handler   func(r *http.Request) (int, string)
}

func (f *fakeAPI) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Body != nil {
		_ = r.Body.Close()
	}

	code, body := http.StatusOK, "{}"
	if strings.HasSuffix(r.URL.Path, "/access_tokens") && r.Method == http.MethodPost {
		n := f.exchanges.Add(1)
		code = http.StatusCreated
		body = fmt.Sprintf(`{"token":"ghs_%d","expires_at":%q}`,
			n, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	} else {
		f.last.Store(r)
		if f.handler != nil {
			code, body = f.handler(r)
		}
	}

	h := http.Header{}
	h.Set(api.ContentTypeHeader, api.ContentTypeJSON)
	return &http.Response{
		StatusCode: code,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}, nil
}

func newFakeAPIManager(t *testing.T, baseURL string, f *fakeAPI) *Manager {
	t.Helper()
	m, err := NewManager(newTestConfig(t, baseURL),
		WithRoundTripper(f),
		WithMinInterval(0),
		WithRetryPolicy(fastRetryPolicy(0)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// trackingBody records whether it was closed.
type trackingBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackingBody) Close() error {
	b.closed.Store(true)
	return nil
}

func TestTransport(t *testing.T) {
	const endpoint = "https://ghe.example.com/api/v3/repos/octo/hello"

	t.Run("installation-token", func(t *testing.T) {
		f := &fakeAPI{}
		m := newFakeAPIManager(t, "https://ghe.example.com", f)
		rt, err := m.Transport(42)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), rt.InstallationID())

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, nil)
		require.NoError(t, err)

		for range 3 {
			resp, err := rt.RoundTrip(req)
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}

		sent := f.last.Load()
		require.NotNil(t, sent)
		assert.Equal(t, "Bearer ghs_1", sent.Header.Get(api.AuthzHeader))
		assert.Equal(t, api.UAHeaderValue, sent.Header.Get(api.UAHeader))
		assert.Equal(t, int32(1), f.exchanges.Load())

		// Original request is not modified.
		assert.Empty(t, req.Header.Get(api.AuthzHeader))
		assert.Empty(t, req.Header.Get(api.UAHeader))
	})

	t.Run("user-agent-preserved", func(t *testing.T) {
		f := &fakeAPI{}
		m := newFakeAPIManager(t, "https://ghe.example.com", f)
		rt, err := m.Transport(42)
		require.NoError(t, err)

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, nil)
		require.NoError(t, err)
		req.Header.Set(api.UAHeader, "custom/v1")
		req.Header.Set(api.AuthzHeader, "Bearer stale")

		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		_ = resp.Body.Close()

		sent := f.last.Load()
		assert.Equal(t, "custom/v1", sent.Header.Get(api.UAHeader))
		assert.Equal(t, "Bearer ghs_1", sent.Header.Get(api.AuthzHeader))
	})

	t.Run("unauthorized-evicts-token", func(t *testing.T) {
		f := &fakeAPI{
			handler: func(r *http.Request) (int, string) {
				if r.Header.Get(api.AuthzHeader) == "Bearer ghs_1" {
					return http.StatusUnauthorized, `{"message":"Bad credentials"}`
				}
				return http.StatusOK, "{}"
			},
		}
		m := newFakeAPIManager(t, "https://ghe.example.com", f)
		rt, err := m.Transport(42)
		require.NoError(t, err)

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, nil)
		require.NoError(t, err)

		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Zero(t, m.Cache().Len())

		resp, err = rt.RoundTrip(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Bearer ghs_2", f.last.Load().Header.Get(api.AuthzHeader))
		assert.Equal(t, int32(2), f.exchanges.Load())
	})

	t.Run("app-jwt", func(t *testing.T) {
		f := &fakeAPI{}
		m := newFakeAPIManager(t, "https://ghe.example.com", f)
		rt := m.AppTransport()
		assert.Zero(t, rt.InstallationID())

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
			"https://ghe.example.com/api/v3/app", nil)
		require.NoError(t, err)

		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		_ = resp.Body.Close()

		bearer, ok := strings.CutPrefix(f.last.Load().Header.Get(api.AuthzHeader), "Bearer ")
		require.True(t, ok)
		parseTestJWT(t, bearer, "https://ghe.example.com")
		assert.Zero(t, f.exchanges.Load())
	})

	t.Run("host-mismatch", func(t *testing.T) {
		f := &fakeAPI{}
		m := newFakeAPIManager(t, "https://ghe.example.com", f)
		rt, err := m.Transport(42)
		require.NoError(t, err)

		body := &trackingBody{Reader: strings.NewReader("{}")}
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
			"https://api.github.com/repos/octo/hello/issues", body)
		require.NoError(t, err)

		_, err = rt.RoundTrip(req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
		assert.True(t, body.closed.Load())
		assert.Zero(t, f.exchanges.Load())
		assert.Nil(t, f.last.Load())
	})

	t.Run("public-upload-host", func(t *testing.T) {
		f := &fakeAPI{}
		m := newFakeAPIManager(t, "", f)
		rt, err := m.Transport(42)
		require.NoError(t, err)

		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
			"https://UPLOADS.github.com/repos/octo/hello/releases/1/assets", strings.NewReader("asset"))
		require.NoError(t, err)

		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, "Bearer ghs_1", f.last.Load().Header.Get(api.AuthzHeader))
	})

	t.Run("token-error", func(t *testing.T) {
		m, err := NewManager(newTestConfig(t, "https://ghe.example.com"),
			WithRoundTripper(testutil.RoundTripFunc(func(r *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusNotFound,
					Header:     http.Header{},
					Body:       io.NopCloser(strings.NewReader(`{"message":"Not Found"}`)),
					Request:    r,
				}, nil
			})),
			WithMinInterval(0),
		)
		require.NoError(t, err)
		rt, err := m.Transport(42)
		require.NoError(t, err)

		body := &trackingBody{Reader: strings.NewReader("{}")}
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, endpoint, body)
		require.NoError(t, err)

		_, err = rt.RoundTrip(req)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		assert.True(t, body.closed.Load())
	})

	t.Run("invalid", func(t *testing.T) {
		f := &fakeAPI{}
		m := newFakeAPIManager(t, "https://ghe.example.com", f)

		_, err := m.Transport(0)
		require.ErrorIs(t, err, ErrInvalidInput)

		_, err = m.AppTransport().RoundTrip(nil)
		require.Error(t, err)

		_, err = m.AppTransport().RoundTrip(&http.Request{Header: http.Header{}})
		require.Error(t, err)
	})
}

func TestAPIHosts(t *testing.T) {
	hosts, err := apiHosts(newTestConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"api.github.com", "uploads.github.com"}, hosts)

	hosts, err = apiHosts(newTestConfig(t, "http://127.0.0.1:8080"))
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:8080"}, hosts)
}
