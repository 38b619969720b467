// SPDX-FileCopyrightText: Copyright 2023 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp_test

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/release-regent/go-githubapp"
	"github.com/release-regent/go-githubapp/internal/testutil"
)

// This tests makes live API calls to GitHub. App is configured via
// GITHUB_APP_ID, GITHUB_PRIVATE_KEY or GITHUB_PRIVATE_KEY_PATH and optionally
// GITHUB_BASE_URL. GO_GITHUBAPP_TEST_REPO must be a repository in
// owner/repo format on which the app is installed.
func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skipf("Skip => Integration tests")
	}

	if os.Getenv(githubapp.EnvAppID) == "" {
		t.Skipf("Skip => %s is not defined", githubapp.EnvAppID)
	}

	owner, repo, ok := strings.Cut(os.Getenv("GO_GITHUBAPP_TEST_REPO"), "/")
	if !ok {
		t.Skipf("Skip => GO_GITHUBAPP_TEST_REPO is not defined or is invalid")
	}

	config, err := githubapp.ConfigFromEnv()
	if err != nil {
		t.Fatalf("Failed to build config: %s", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m, err := githubapp.NewManager(config,
		githubapp.WithLogger(logger),
		githubapp.WithUserAgent("go-githubapp-integration-test"),
		githubapp.WithRepositories(owner+"/"+repo),
		githubapp.WithPermissions("metadata:read"),
	)
	if err != nil {
		t.Fatalf("Failed to create manager: %s", err)
	}
	defer m.Close()

	ctx, cancel := testutil.TestingCtx(t, time.Minute)
	defer cancel()

	app, err := m.AppClient()
	if err != nil {
		t.Fatalf("Failed to create app client: %s", err)
	}

	installation, _, err := app.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		t.Fatalf("Failed to find installation for %s/%s: %s", owner, repo, err)
	}
	id := uint64(installation.GetID())
	t.Logf("Installation ID: %d", id)

	token, err := m.InstallationToken(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get installation token: %s", err)
	}

	cached, err := m.InstallationToken(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get cached installation token: %s", err)
	}
	if token != cached {
		t.Errorf("Expected cached token to be re-used")
	}

	client, err := m.InstallationClient(id)
	if err != nil {
		t.Fatalf("Failed to create installation client: %s", err)
	}

	r, _, err := client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		t.Fatalf("Failed to get repository: %s", err)
	}
	if !strings.EqualFold(r.GetFullName(), owner+"/"+repo) {
		t.Errorf("Expected repository %s/%s, got %s", owner, repo, r.GetFullName())
	}

	t.Logf("Rate limit: %+v", m.RateLimiter().Info())

	if err = m.Revoke(ctx, id); err != nil {
		t.Fatalf("Failed to revoke token: %s", err)
	}

	if m.Cache().Len() != 0 {
		t.Errorf("Expected cache to be empty after revocation")
	}
}
