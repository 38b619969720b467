// SPDX-FileCopyrightText: Copyright 2023 Prasad Tengse
// SPDX-License-Identifier: MIT

package api_test

import (
	"net/url"
	"testing"

	"github.com/release-regent/go-githubapp/internal/api"
)

func TestDefaultEndpoint(t *testing.T) {
	for _, item := range []string{api.DefaultEndpoint, api.DefaultAudience} {
		u, err := url.Parse(item)
		if err != nil {
			t.Errorf("URL(%s) is invalid: %s", item, err)
			continue
		}
		if u.Scheme != "https" || u.Path != "" {
			t.Errorf("URL(%s) must be https without path", item)
		}
	}
}
