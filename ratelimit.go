// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/release-regent/go-githubapp/internal/api"
	"golang.org/x/time/rate"
)

// DefaultMinInterval is default minimum interval between two token requests.
const DefaultMinInterval = time.Second

var _ slog.LogValuer = (*RateLimitInfo)(nil)

// RateLimitInfo is API quota reported by GitHub. All fields are nil
// until a response carrying the value has been observed.
type RateLimitInfo struct {
	Limit     *int
	Remaining *int
	Used      *int
	Reset     *time.Time
}

// LogValue implements [log/slog.LogValuer].
func (r RateLimitInfo) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 4)
	if r.Limit != nil {
		attrs = append(attrs, slog.Int("limit", *r.Limit))
	}
	if r.Remaining != nil {
		attrs = append(attrs, slog.Int("remaining", *r.Remaining))
	}
	if r.Used != nil {
		attrs = append(attrs, slog.Int("used", *r.Used))
	}
	if r.Reset != nil {
		attrs = append(attrs, slog.Time("reset", *r.Reset))
	}
	return slog.GroupValue(attrs...)
}

// clone returns a deep copy, so that callers cannot mutate limiter state.
func (r RateLimitInfo) clone() RateLimitInfo {
	return RateLimitInfo{
		Limit:     clonePtr(r.Limit),
		Remaining: clonePtr(r.Remaining),
		Used:      clonePtr(r.Used),
		Reset:     clonePtr(r.Reset),
	}
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// RateLimiter paces outgoing requests and tracks API quota reported by GitHub.
//
// Pacing allows at most one request every min interval, even when
// no quota information is known yet. It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time

	mu   sync.RWMutex
	info RateLimitInfo
}

// NewRateLimiter returns a new [RateLimiter] which allows one request every
// minInterval. If minInterval is not positive, requests are not paced.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return newRateLimiter(minInterval, time.Now)
}

func newRateLimiter(minInterval time.Duration, now func() time.Time) *RateLimiter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, 1),
		now:     now,
	}
}

// Wait blocks until next request is allowed by local pacing or ctx is done.
// Cancelling ctx leaves limiter state as if Wait was never called.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("githubapp(ratelimit): %w", err)
	}
	return nil
}

// Update merges known fields of info into tracked quota.
func (l *RateLimiter) Update(info RateLimitInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if info.Limit != nil {
		l.info.Limit = clonePtr(info.Limit)
	}
	if info.Remaining != nil {
		l.info.Remaining = clonePtr(info.Remaining)
	}
	if info.Used != nil {
		l.info.Used = clonePtr(info.Used)
	}
	if info.Reset != nil {
		l.info.Reset = clonePtr(info.Reset)
	}
}

// UpdateFromHeaders updates tracked quota from X-RateLimit-* response headers.
// Missing or malformed headers are ignored.
func (l *RateLimiter) UpdateFromHeaders(h http.Header) {
	if h == nil {
		return
	}
	l.Update(RateLimitInfoFromHeaders(h))
}

// Info returns a copy of tracked quota.
func (l *RateLimiter) Info() RateLimitInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.info.clone()
}

// ShouldWait returns duration until quota reset if remaining quota is zero
// and reset time is known and in the future.
func (l *RateLimiter) ShouldWait() (time.Duration, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.info.Remaining == nil || *l.info.Remaining > 0 || l.info.Reset == nil {
		return 0, false
	}

	wait := l.info.Reset.Sub(l.now())
	if wait <= 0 {
		return 0, false
	}
	return wait, true
}

// RateLimitInfoFromHeaders parses X-RateLimit-* headers. Headers which are
// missing or are not integers are left as nil.
func RateLimitInfoFromHeaders(h http.Header) RateLimitInfo {
	info := RateLimitInfo{
		Limit:     headerInt(h, api.RateLimitHeader),
		Remaining: headerInt(h, api.RateLimitRemainingHeader),
		Used:      headerInt(h, api.RateLimitUsedHeader),
	}
	if v := headerInt(h, api.RateLimitResetHeader); v != nil {
		reset := time.Unix(int64(*v), 0)
		info.Reset = &reset
	}
	return info
}

func headerInt(h http.Header, key string) *int {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
