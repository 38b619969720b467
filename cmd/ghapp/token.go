// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/release-regent/go-githubapp"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		installationID uint64
		repos          []string
		permissions    []string
		gitCredentials bool
	)
	target := &installationTarget{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain an installation access token",
		Long: `Obtain an installation access token. Installation is either
specified by --installation-id or looked up by --repo, --org or --user.

With --git-credentials, output is in git credential helper format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if installationID == 0 && target.isZero() {
				return errors.New("one of --installation-id, --repo, --org or --user is required")
			}

			m, err := root.manager(cmd,
				githubapp.WithRepositories(repos...),
				githubapp.WithPermissions(permissions...),
			)
			if err != nil {
				return err
			}
			defer m.Close()

			if installationID == 0 {
				installationID, err = target.find(cmd.Context(), m)
				if err != nil {
					return err
				}
			}

			token, err := m.TokenSource(cmd.Context(), installationID).Token()
			if err != nil {
				return err
			}

			if gitCredentials {
				return writeGitCredentials(cmd.OutOrStdout(), token)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
			return err
		},
	}

	cmd.Flags().Uint64Var(&installationID, "installation-id", 0, "Installation ID")
	cmd.Flags().StringSliceVar(&repos, "repos", nil, "Limit token to repositories")
	cmd.Flags().StringSliceVar(&permissions, "permissions", nil, "Limit token to permissions, like issues:write")
	cmd.Flags().BoolVar(&gitCredentials, "git-credentials", false, "Print token in git credential helper format")
	target.addFlags(cmd)
	cmd.MarkFlagsMutuallyExclusive("installation-id", "repo", "org", "user")
	return cmd
}

// writeGitCredentials writes token in git credential helper format.
func writeGitCredentials(w io.Writer, token *oauth2.Token) error {
	_, err := fmt.Fprintf(w, "protocol=https\nusername=x-access-token\npassword=%s\npassword_expiry_utc=%d\n\n",
		token.AccessToken, token.Expiry.Truncate(time.Second).Unix())
	return err
}
