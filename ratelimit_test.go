// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/release-regent/go-githubapp/internal/api"
	"github.com/release-regent/go-githubapp/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}

func TestRateLimiterShouldWait(t *testing.T) {
	clock := testutil.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	tt := []struct {
		name string
		info RateLimitInfo
		wait time.Duration
		ok   bool
	}{
		{
			name: "unknown",
		},
		{
			name: "remaining-zero-reset-hour",
			info: RateLimitInfo{
				Remaining: intPtr(0),
				Reset:     timePtr(clock.Now().Add(time.Hour)),
			},
			wait: time.Hour,
			ok:   true,
		},
		{
			name: "remaining-positive",
			info: RateLimitInfo{
				Remaining: intPtr(10),
				Reset:     timePtr(clock.Now().Add(time.Hour)),
			},
		},
		{
			name: "remaining-zero-reset-unknown",
			info: RateLimitInfo{Remaining: intPtr(0)},
		},
		{
			name: "remaining-zero-reset-past",
			info: RateLimitInfo{
				Remaining: intPtr(0),
				Reset:     timePtr(clock.Now().Add(-time.Second)),
			},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			l := newRateLimiter(time.Second, clock.Now)
			l.Update(tc.info)
			wait, ok := l.ShouldWait()
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.wait, wait)
		})
	}
}

func TestRateLimiterUpdateFromHeaders(t *testing.T) {
	reset := time.Now().Add(time.Hour).Truncate(time.Second)

	h := http.Header{}
	h.Set(api.RateLimitHeader, "5000")
	h.Set(api.RateLimitRemainingHeader, "0")
	h.Set(api.RateLimitUsedHeader, "5000")
	h.Set(api.RateLimitResetHeader, strconv.FormatInt(reset.Unix(), 10))

	l := NewRateLimiter(time.Second)
	l.UpdateFromHeaders(h)

	info := l.Info()
	require.NotNil(t, info.Limit)
	require.NotNil(t, info.Remaining)
	require.NotNil(t, info.Used)
	require.NotNil(t, info.Reset)
	assert.Equal(t, 5000, *info.Limit)
	assert.Equal(t, 0, *info.Remaining)
	assert.Equal(t, 5000, *info.Used)
	assert.True(t, reset.Equal(*info.Reset))

	wait, ok := l.ShouldWait()
	require.True(t, ok)
	assert.InDelta(t, time.Hour.Seconds(), wait.Seconds(), 5)

	// Info must return a copy.
	*info.Remaining = 100
	_, ok = l.ShouldWait()
	assert.True(t, ok)

	// Partial update keeps other fields.
	h = http.Header{}
	h.Set(api.RateLimitRemainingHeader, "4999")
	h.Set(api.RateLimitUsedHeader, "not-a-number")
	l.UpdateFromHeaders(h)
	info = l.Info()
	assert.Equal(t, 4999, *info.Remaining)
	assert.Equal(t, 5000, *info.Limit)
	assert.Equal(t, 5000, *info.Used)

	_, ok = l.ShouldWait()
	assert.False(t, ok)

	// nil headers are ignored.
	l.UpdateFromHeaders(nil)
	assert.Equal(t, 4999, *l.Info().Remaining)
}

func TestRateLimitInfoFromHeaders(t *testing.T) {
	info := RateLimitInfoFromHeaders(http.Header{})
	assert.Equal(t, RateLimitInfo{}, info)

	h := http.Header{}
	h.Set(api.RateLimitRemainingHeader, "-1")
	h.Set(api.RateLimitHeader, "")
	h.Set(api.RateLimitResetHeader, "tomorrow")
	info = RateLimitInfoFromHeaders(h)
	assert.Nil(t, info.Remaining)
	assert.Nil(t, info.Limit)
	assert.Nil(t, info.Reset)
}

func TestRateLimiterWait(t *testing.T) {
	t.Run("paces", func(t *testing.T) {
		ctx, cancel := testutil.TestingCtx(t, 10*time.Second)
		defer cancel()

		l := NewRateLimiter(50 * time.Millisecond)
		start := time.Now()
		for range 3 {
			require.NoError(t, l.Wait(ctx))
		}
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	})

	t.Run("unpaced", func(t *testing.T) {
		l := NewRateLimiter(0)
		start := time.Now()
		for range 100 {
			require.NoError(t, l.Wait(context.Background()))
		}
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("cancel", func(t *testing.T) {
		l := NewRateLimiter(time.Hour)
		require.NoError(t, l.Wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		err := l.Wait(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
