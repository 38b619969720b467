// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-github/v74/github"
	"github.com/release-regent/go-githubapp/internal/api"
	"golang.org/x/sync/singleflight"
)

// maxFlightRetries bounds how many times a caller re-joins token fetch
// when the fetch it joined was cancelled by another caller.
const maxFlightRetries = 3

// errFetchAbandoned is returned by a token fetch whose initiating caller's
// context ended before the fetch completed.
const errFetchAbandoned = Error("githubapp: token fetch abandoned by caller")

var (
	_ fmt.Formatter  = (*Manager)(nil)
	_ slog.LogValuer = (*Manager)(nil)
)

// Manager obtains and caches GitHub app installation access tokens.
//
// Concurrent requests for an installation without a cached token are
// coalesced into a single token exchange. Manager is safe for concurrent use.
// Multiple managers never share state.
type Manager struct {
	config    *Config
	minter    jwtMinter
	cache     *TokenCache
	limiter   *RateLimiter
	exchanger tokenExchanger
	group     singleflight.Group
	jwt       atomic.Pointer[JWT]

	// Populated by options.
	next        http.RoundTripper // next round tripper
	ua          string            // user agent
	logger      *slog.Logger
	policy      RetryPolicy
	minInterval time.Duration
	timeout     time.Duration // per-attempt exchange timeout
	owner       string        // owner of repositories
	repos       []string      // repository names
	scopes      map[string]string
	permissions *github.InstallationPermissions
	now         func() time.Time

	hosts     []string // hosts Transport may authenticate
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager returns a new [Manager] for the app configured by c.
//
// Manager does not make any API calls until a token is requested.
func NewManager(c *Config, opts ...Option) (*Manager, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrConfiguration)
	}

	m := &Manager{
		config:      c,
		next:        http.DefaultTransport,
		ua:          api.UAHeaderValue,
		logger:      slog.New(slog.DiscardHandler),
		policy:      DefaultRetryPolicy(),
		minInterval: DefaultMinInterval,
		now:         time.Now,
		done:        make(chan struct{}),
	}

	var err error
	for _, opt := range opts {
		if opt != nil {
			err = errors.Join(err, opt.apply(m))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	m.minter = newJWTMinter(c)
	m.cache = newTokenCache(c.refreshBuffer, m.now)
	m.limiter = newRateLimiter(m.minInterval, m.now)
	m.exchanger = &githubExchanger{
		config:  c,
		next:    m.next,
		ua:      m.ua,
		limiter: m.limiter,
		now:     m.now,
	}

	m.hosts, err = apiHosts(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	m.logger = m.logger.With(slog.Uint64("app_id", c.appID))
	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "Created token manager",
		slog.Any("config", c),
		slog.Any("retry_policy", m.policy),
		slog.Duration("min_interval", m.minInterval),
	)
	return m, nil
}

// Config returns the app configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// Cache returns token cache used by the manager.
func (m *Manager) Cache() *TokenCache {
	return m.cache
}

// RateLimiter returns rate limiter used by the manager. It tracks
// quota reported by GitHub on token exchange.
func (m *Manager) RateLimiter() *RateLimiter {
	return m.limiter
}

// Repositories returns repositories installation tokens are scoped to.
func (m *Manager) Repositories() []string {
	return slices.Clone(m.repos)
}

// ScopedPermissions returns permissions installation tokens are scoped to.
func (m *Manager) ScopedPermissions() map[string]string {
	return maps.Clone(m.scopes)
}

// JWT returns already existing JWT bearer token or mints a new one.
// Existing token is re-used while it is valid for at-least 60 seconds.
func (m *Manager) JWT(ctx context.Context) (JWT, error) {
	if bearer := m.jwt.Load(); bearer != nil && bearer.isValidAt(m.now()) {
		return *bearer, nil
	}

	bearer, err := m.minter.MintJWT(ctx, m.now())
	if err != nil {
		return JWT{}, err
	}
	m.jwt.Store(&bearer)
	return bearer, nil
}

// InstallationToken returns installation access token for the installation.
//
// Cached token is returned if it is not within refresh buffer of its expiry.
// Otherwise, a new app JWT is minted and exchanged for an installation token,
// retrying per [RetryPolicy]. Returned errors never include tokens or keys.
func (m *Manager) InstallationToken(ctx context.Context, installationID uint64) (string, error) {
	token, err := m.installationToken(ctx, installationID)
	if err != nil {
		return "", err
	}
	return token.Token.Reveal(), nil
}

func (m *Manager) installationToken(ctx context.Context, installationID uint64) (CachedToken, error) {
	if installationID == 0 {
		return CachedToken{}, fmt.Errorf("%w: installation id cannot be zero", ErrInvalidInput)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if token, ok := m.cache.Get(installationID); ok {
		m.logger.LogAttrs(ctx, slog.LevelDebug, "Using cached installation token",
			slog.Uint64("installation_id", installationID))
		return token, nil
	}

	key := strconv.FormatUint(installationID, 10)
	for i := 0; ; i++ {
		ch := m.group.DoChan(key, func() (any, error) {
			return m.fetch(ctx, installationID)
		})

		select {
		case <-ctx.Done():
			return CachedToken{}, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(CachedToken), nil
			}

			// Fetch started by another caller was abandoned, but this caller
			// is still interested in the token.
			if res.Shared && ctx.Err() == nil && i < maxFlightRetries && errors.Is(res.Err, errFetchAbandoned) {
				continue
			}
			return CachedToken{}, res.Err
		}
	}
}

// fetch exchanges a new JWT for an installation token and caches it.
func (m *Manager) fetch(ctx context.Context, installationID uint64) (CachedToken, error) {
	// Another fetch may have completed after the caller checked the cache.
	if token, ok := m.cache.Get(installationID); ok {
		return token, nil
	}

	logger := m.logger.With(slog.Uint64("installation_id", installationID))
	logger.LogAttrs(ctx, slog.LevelDebug, "Fetching installation token")

	scope := installationScope{repos: m.repos, permissions: m.permissions}
	notify := func(attempt int, delay time.Duration, err error) {
		logger.LogAttrs(ctx, slog.LevelWarn, "Retrying installation token request",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}

	token, err := retry(ctx, m.policy, m.policy.IsRetryable, m.admit, notify,
		func(ctx context.Context) (exchangedToken, error) {
			return m.exchange(ctx, installationID, scope)
		})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return CachedToken{}, fmt.Errorf("%w: installation %d: %w", errFetchAbandoned, installationID, ctxErr)
		}
		logger.LogAttrs(ctx, slog.LevelError, "Failed to get installation token",
			slog.String("error", err.Error()))
		return CachedToken{}, fmt.Errorf("githubapp: installation %d: %w", installationID, err)
	}

	if err = m.cache.Store(installationID, token.Token, token.ExpiresAt); err != nil {
		return CachedToken{}, err
	}

	cached := CachedToken{
		Token:          NewSecret(token.Token),
		InstallationID: installationID,
		CreatedAt:      m.now(),
		ExpiresAt:      token.ExpiresAt,
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "Cached installation token", slog.Any("token", cached))
	return cached, nil
}

// exchange is a single attempt of minting JWT and exchanging it
// for an installation token.
func (m *Manager) exchange(ctx context.Context, installationID uint64, scope installationScope) (exchangedToken, error) {
	bearer, err := m.minter.MintJWT(ctx, m.now())
	if err != nil {
		return exchangedToken{}, err
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	token, err := m.exchanger.Exchange(ctx, bearer.Token, installationID, scope)
	if err != nil {
		// Wait for quota reset before next attempt.
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) && rateErr.Reset.After(m.now()) {
			remaining := 0
			reset := rateErr.Reset
			m.limiter.Update(RateLimitInfo{Remaining: &remaining, Reset: &reset})
		}
		return exchangedToken{}, err
	}
	return token, nil
}

// admit waits for quota reset and local pacing before an exchange attempt.
func (m *Manager) admit(ctx context.Context) error {
	if wait, ok := m.limiter.ShouldWait(); ok {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "Waiting for rate limit reset",
			slog.Duration("delay", wait))
	}
	return m.limiter.admit(ctx)
}

// Revoke revokes cached installation access token for the installation
// and removes it from the cache. Token already rejected by GitHub
// is removed from the cache without an error.
func (m *Manager) Revoke(ctx context.Context, installationID uint64) error {
	if installationID == 0 {
		return fmt.Errorf("%w: installation id cannot be zero", ErrInvalidInput)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	token, ok := m.cache.peek(installationID)
	if !ok {
		return fmt.Errorf("%w: no token for installation %d", ErrInvalidInput, installationID)
	}

	if !token.ExpiresAt.After(m.now()) {
		m.cache.Remove(installationID)
		return nil
	}

	if err := m.limiter.admit(ctx); err != nil {
		return err
	}

	err := m.exchanger.Revoke(ctx, token.Token.Reveal())
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized) {
		return fmt.Errorf("githubapp: failed to revoke token for installation %d: %w", installationID, err)
	}

	m.cache.Remove(installationID)
	m.logger.LogAttrs(ctx, slog.LevelInfo, "Revoked installation token",
		slog.Uint64("installation_id", installationID))
	return nil
}

// StartCleanup periodically removes expired tokens from the cache until ctx
// is done or [Manager.Close] is called. Cleanup is not required for correctness,
// it only limits how long expired tokens are held in memory.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: invalid cleanup interval: %s", ErrInvalidInput, interval)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-m.done:
		return fmt.Errorf("%w: manager is closed", ErrInvalidInput)
	default:
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				if n := m.cache.CleanupExpired(); n > 0 {
					m.logger.LogAttrs(ctx, slog.LevelDebug, "Removed expired installation tokens",
						slog.Int("count", n))
				}
			}
		}
	}()
	return nil
}

// Close stops cleanup started by [Manager.StartCleanup] and removes all
// cached tokens. Tokens are not revoked. Tokens can still be obtained after
// Close, but cleanup cannot be started again.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.cache.Clear()
	return nil
}

// String returns manager description. Tokens and keys are never included.
func (m *Manager) String() string {
	return fmt.Sprintf("Manager{Config:%s, Cache:%s}", m.config, m.cache)
}

// Format implements [fmt.Formatter]. All verbs print [Manager.String].
func (m *Manager) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, m.String())
}

// LogValue implements [log/slog.LogValuer].
func (m *Manager) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("config", m.config),
		slog.Any("cache", m.cache),
		slog.Any("retry_policy", m.policy),
	)
}
