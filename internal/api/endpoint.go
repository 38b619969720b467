// SPDX-FileCopyrightText: Copyright 2023 Prasad Tengse
// SPDX-License-Identifier: MIT

package api

// Public GitHub endpoints.
const (
	// DefaultEndpoint is default GitHub REST API endpoint.
	DefaultEndpoint = "https://api.github.com"

	// DefaultAudience is JWT audience used for github.com.
	DefaultAudience = "https://github.com"

	// EnterpriseAPIPath is REST API path prefix for GitHub Enterprise Server.
	EnterpriseAPIPath = "/api/v3"

	// EnterpriseUploadPath is upload API path prefix for GitHub Enterprise Server.
	EnterpriseUploadPath = "/api/uploads"
)
