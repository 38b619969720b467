// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package api

// Common headers used by this package.
const (
	UAHeader          = "User-Agent"
	UAHeaderValue     = "github.com/release-regent/go-githubapp/v0"
	AuthzHeader       = "Authorization"
	ContentTypeHeader = "Content-Type"
	ContentTypeJSON   = "application/json"
)

// GitHub rate limit headers in canonical form.
const (
	RateLimitHeader          = "X-Ratelimit-Limit"
	RateLimitRemainingHeader = "X-Ratelimit-Remaining"
	RateLimitResetHeader     = "X-Ratelimit-Reset"
	RateLimitUsedHeader      = "X-Ratelimit-Used"
	RetryAfterHeader         = "Retry-After"
)

// GitHub webhook headers in canonical form.
const (
	SignatureSHA256Header        = "X-Hub-Signature-256"
	EventHeader                  = "X-Github-Event"
	HookIDHeader                 = "X-Github-Hook-Id"
	DeliveryHeader               = "X-Github-Delivery"
	InstallationTargetIDHeader   = "X-Github-Hook-Installation-Target-Id"
	InstallationTargetTypeHeader = "X-Github-Hook-Installation-Target-Type"
)

// SignaturePrefix is prefix of the value of [SignatureSHA256Header].
const SignaturePrefix = "sha256="

// AuthzHeaderValue is a convenience function to return Authorization header as value.
// If the token is empty, this returns empty string. Token is assumed to be
// bearer token.
func AuthzHeaderValue(token string) string {
	if token == "" {
		return ""
	}
	return "Bearer " + token
}
