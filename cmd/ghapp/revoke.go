// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// envToken is environment variable holding token to revoke.
const envToken = "GITHUB_TOKEN"

func newRevokeCmd(root *rootOptions) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an installation access token",
		Long: `Revoke an installation access token. Token is read from --token
or GITHUB_TOKEN environment variable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv(envToken)
			}
			if token == "" {
				return errors.New("token not specified")
			}

			m, err := root.manager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			client, err := m.TokenClient(cmd.Context(), token)
			if err != nil {
				return err
			}

			if _, err = client.Apps.RevokeInstallationToken(cmd.Context()); err != nil {
				return fmt.Errorf("failed to revoke token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.ErrOrStderr(), "Token revoked")
			return err
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Installation access token to revoke")
	return cmd
}
