// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

// Package api holds GitHub API constants and the JWT claims required to
// authenticate as a GitHub app.
//
// REST calls themselves are made with [github.com/google/go-github/v74/github].
package api
