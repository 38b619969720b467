// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

// Package testutil holds helpers shared by tests.
package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"
)

var _ http.RoundTripper = (*RoundTripFunc)(nil)

// RoundTripFunc is an adapter to allow the use of ordinary functions as
// RoundTrippers, similar to [http.HandlerFunc].
type RoundTripFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements the RoundTripper interface by calling f(r).
func (f RoundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// TestingCtx returns a context which is cancelled at test deadline
// or after timeout if test has no deadline.
func TestingCtx(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	// Ideally we would set per test timeouts, but they are not available yet.
	// See https://github.com/golang/go/issues/48157 for more info.
	if ts, ok := t.Deadline(); ok {
		return context.WithDeadline(context.Background(), ts)
	}

	if timeout <= 0 {
		t.Logf("Ignoring invalid timeout value: %s", timeout)
		timeout = time.Second * 30
	}
	return context.WithTimeout(context.Background(), timeout)
}

// Clock is a manually advanced clock for tests.
type Clock struct {
	ch chan time.Time
}

// NewClock returns a new [Clock] set to now.
func NewClock(now time.Time) *Clock {
	c := &Clock{ch: make(chan time.Time, 1)}
	c.ch <- now
	return c
}

// Now returns current time of the clock. It is safe for concurrent use.
func (c *Clock) Now() time.Time {
	now := <-c.ch
	c.ch <- now
	return now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	now := <-c.ch
	c.ch <- now.Add(d)
}
