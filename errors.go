// SPDX-FileCopyrightText: Copyright 2023 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"fmt"
	"net/http"
	"time"
)

var (
	_ error = Error("")
	_ error = (*RateLimitError)(nil)
	_ error = (*APIError)(nil)
)

// Error is immutable error representation.
//
// Error strings themselves are NOT part of semver compatibility guarantees.
// Use exported symbols instead of directly using error strings.
type Error string

// Implements Error() interface.
func (e Error) Error() string {
	return string(e)
}

// Error categories. All errors returned by this package wrap one of these,
// use [errors.Is] to match them.
//
//   - [ErrConfiguration] is returned when app id, key or base url is invalid.
//     It is never retried.
//   - [ErrInvalidInput] is returned for invalid arguments like an empty token
//     or zero installation id.
//   - [ErrJWT] is returned when the app JWT cannot be minted.
//   - [ErrAuthentication] is returned when GitHub rejects the credentials.
//     It is never retried.
//   - [ErrRateLimit] is returned when GitHub rate limits the request.
//   - [ErrNetwork] is returned on transport errors and timeouts.
//   - [ErrServer] is returned when GitHub responds with 5xx.
const (
	ErrConfiguration  = Error("githubapp: invalid configuration")
	ErrInvalidInput   = Error("githubapp: invalid input")
	ErrJWT            = Error("githubapp(jwt): failed to mint JWT")
	ErrAuthentication = Error("githubapp: authentication failed")
	ErrRateLimit      = Error("githubapp: rate limit exceeded")
	ErrNetwork        = Error("githubapp: network error")
	ErrServer         = Error("githubapp: server error")
)

// RateLimitError is returned when GitHub API quota is exhausted.
// It matches [ErrRateLimit] with [errors.Is].
type RateLimitError struct {
	// Reset is time at which quota resets. This may be zero if unknown.
	Reset time.Time

	// StatusCode is HTTP status code of the response, if any.
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("%s (%d)", ErrRateLimit, e.StatusCode)
	}
	return fmt.Sprintf("%s (%d), resets at %s",
		ErrRateLimit, e.StatusCode, e.Reset.UTC().Format(time.RFC3339))
}

// Is reports whether target is [ErrRateLimit].
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimit
}

// APIError is returned when GitHub responds with an unexpected status code.
//
//   - 401 and 403 match [ErrAuthentication].
//   - 429 matches [ErrRateLimit].
//   - 5xx match [ErrServer].
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	status := http.StatusText(e.StatusCode)
	if e.Message != "" {
		return fmt.Sprintf("githubapp: %s(%d %s)", e.Message, e.StatusCode, status)
	}
	return fmt.Sprintf("githubapp: unexpected response(%d %s)", e.StatusCode, status)
}

// Is maps status code to error category.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthentication:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimit:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrServer:
		return e.StatusCode >= http.StatusInternalServerError
	}
	return false
}
