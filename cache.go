// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var (
	_ slog.LogValuer = (*CachedToken)(nil)
	_ slog.LogValuer = (*TokenCache)(nil)
	_ fmt.Formatter  = (*TokenCache)(nil)
)

// CachedToken is an installation access token held by [TokenCache].
//
// Token is a [Secret], thus printing CachedToken never includes the token.
type CachedToken struct {
	// Installation access token. Typically starts with "ghs_".
	Token Secret

	// Installation ID for the token.
	InstallationID uint64

	// Time at which token was stored.
	CreatedAt time.Time

	// Token expiry as reported by GitHub.
	ExpiresAt time.Time
}

// LogValue implements [log/slog.LogValuer].
func (t CachedToken) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("installation_id", t.InstallationID),
		slog.Time("created_at", t.CreatedAt),
		slog.Time("expires_at", t.ExpiresAt),
		slog.String("token", redacted),
	)
}

// isFresh reports whether token can be handed out at now.
func (t CachedToken) isFresh(now time.Time, buffer time.Duration) bool {
	return now.Before(t.ExpiresAt.Add(-buffer))
}

// TokenCache is a concurrency safe, in memory store of installation tokens.
//
// Tokens are never returned by [TokenCache.Get] once current time is within
// refresh buffer of their expiry. Freshness is checked on every read.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[uint64]CachedToken
	buffer time.Duration
	now    func() time.Time
}

// NewTokenCache returns an empty [TokenCache] which treats tokens as expired
// refreshBuffer before their actual expiry. Negative values are treated as zero.
func NewTokenCache(refreshBuffer time.Duration) *TokenCache {
	return newTokenCache(refreshBuffer, time.Now)
}

func newTokenCache(refreshBuffer time.Duration, now func() time.Time) *TokenCache {
	if refreshBuffer < 0 {
		refreshBuffer = 0
	}
	if now == nil {
		now = time.Now
	}
	return &TokenCache{
		tokens: make(map[uint64]CachedToken),
		buffer: refreshBuffer,
		now:    now,
	}
}

// Get returns token for the installation if it exists and is not within
// refresh buffer of its expiry.
func (c *TokenCache) Get(installationID uint64) (CachedToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	token, ok := c.tokens[installationID]
	if !ok || !token.isFresh(c.now(), c.buffer) {
		return CachedToken{}, false
	}
	return token, true
}

// peek returns token for the installation irrespective of its freshness.
func (c *TokenCache) peek(installationID uint64) (CachedToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.tokens[installationID]
	return token, ok
}

// Store saves token for the installation, replacing any existing token.
func (c *TokenCache) Store(installationID uint64, token string, expiresAt time.Time) error {
	if installationID == 0 {
		return fmt.Errorf("%w: installation id cannot be zero", ErrInvalidInput)
	}

	if token == "" {
		return fmt.Errorf("%w: token cannot be empty", ErrInvalidInput)
	}

	now := c.now()
	c.mu.Lock()
	c.tokens[installationID] = CachedToken{
		Token:          NewSecret(token),
		InstallationID: installationID,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}
	c.mu.Unlock()
	return nil
}

// Remove removes token for the installation. It returns true if a token was present.
func (c *TokenCache) Remove(installationID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.tokens[installationID]
	delete(c.tokens, installationID)
	return ok
}

// CleanupExpired removes all tokens which would not be returned by
// [TokenCache.Get] and returns number of tokens removed.
func (c *TokenCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, token := range c.tokens {
		if !token.isFresh(now, c.buffer) {
			delete(c.tokens, id)
			removed++
		}
	}
	return removed
}

// Clear removes all tokens.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.tokens)
}

// Len returns number of tokens in the cache, including the ones
// which are no longer fresh.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}

// String returns number of cached tokens and refresh buffer. Tokens are
// never included.
func (c *TokenCache) String() string {
	return fmt.Sprintf("TokenCache{Len:%d, RefreshBuffer:%s}", c.Len(), c.buffer)
}

// Format implements [fmt.Formatter]. All verbs print [TokenCache.String].
func (c *TokenCache) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, c.String())
}

// LogValue implements [log/slog.LogValuer].
func (c *TokenCache) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("len", c.Len()),
		slog.Duration("refresh_buffer", c.buffer),
	)
}
