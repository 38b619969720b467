// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v74/github"
	"github.com/release-regent/go-githubapp"
	"github.com/spf13/cobra"
)

// installationTarget identifies installation by repository, organization or user.
type installationTarget struct {
	repo string
	org  string
	user string
}

func (t *installationTarget) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.repo, "repo", "", "Find installation for repository in {owner}/{repo} format")
	cmd.Flags().StringVar(&t.org, "org", "", "Find installation for organization")
	cmd.Flags().StringVar(&t.user, "user", "", "Find installation for user")
	cmd.MarkFlagsMutuallyExclusive("repo", "org", "user")
}

func (t *installationTarget) isZero() bool {
	return t.repo == "" && t.org == "" && t.user == ""
}

// find looks up installation id using app JWT.
func (t *installationTarget) find(ctx context.Context, m *githubapp.Manager) (uint64, error) {
	client, err := m.AppClient()
	if err != nil {
		return 0, err
	}

	var installation *github.Installation
	switch {
	case t.repo != "":
		owner, repo, ok := strings.Cut(t.repo, "/")
		if !ok || owner == "" || repo == "" {
			return 0, fmt.Errorf("invalid repository %q, must be in {owner}/{repo} format", t.repo)
		}
		installation, _, err = client.Apps.FindRepositoryInstallation(ctx, owner, repo)
	case t.org != "":
		installation, _, err = client.Apps.FindOrganizationInstallation(ctx, t.org)
	case t.user != "":
		installation, _, err = client.Apps.FindUserInstallation(ctx, t.user)
	default:
		return 0, errors.New("one of --repo, --org or --user is required")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find installation: %w", err)
	}

	if installation.GetID() <= 0 {
		return 0, errors.New("installation id missing from response")
	}
	return uint64(installation.GetID()), nil
}

func newInstallationCmd(root *rootOptions) *cobra.Command {
	target := &installationTarget{}
	cmd := &cobra.Command{
		Use:   "installation",
		Short: "Find installation id of the app",
		Long: `Find installation id of the app for a repository, organization
or user. This authenticates as app using JWT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := root.manager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			id, err := target.find(cmd.Context(), m)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
	target.addFlags(cmd)
	return cmd
}
