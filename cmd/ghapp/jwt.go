// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"

	"github.com/release-regent/go-githubapp"
	"github.com/spf13/cobra"
)

func newJWTCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "jwt",
		Short: "Mint a JWT to authenticate as app",
		Long: `Mint a new JWT signed with app private key. Every invocation
returns a new token with a unique id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.config()
			if err != nil {
				return err
			}

			token, err := githubapp.NewJWT(cmd.Context(), c)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(token)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token.Token)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print token with its claims as JSON")
	return cmd
}
