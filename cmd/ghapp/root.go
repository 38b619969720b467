// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"log/slog"
	"os"
	"strconv"

	"github.com/release-regent/go-githubapp"
	"github.com/spf13/cobra"
)

const userAgent = "ghapp/v0"

// rootOptions are flags shared by all commands.
type rootOptions struct {
	appID   uint64
	keyFile string
	baseURL string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ghapp",
		Short: "Obtain GitHub app tokens and verify webhooks",
		Long: `ghapp mints GitHub app JWTs, exchanges them for installation access
tokens and verifies webhook signatures.

App id, private key and GitHub Enterprise Server URL are read from flags,
falling back to GITHUB_APP_ID, GITHUB_PRIVATE_KEY (or GITHUB_PRIVATE_KEY_PATH)
and GITHUB_BASE_URL environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.Uint64Var(&opts.appID, "app-id", 0, "GitHub app ID")
	flags.StringVar(&opts.keyFile, "private-key", "", "Path to PEM encoded private key")
	flags.StringVar(&opts.baseURL, "base-url", "", "GitHub Enterprise Server URL")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logs")

	cmd.AddCommand(
		newJWTCmd(opts),
		newTokenCmd(opts),
		newInstallationCmd(opts),
		newRevokeCmd(opts),
		newVerifyCmd(),
	)
	return cmd
}

// config returns app config from environment variables, with flags
// taking precedence over them.
func (o *rootOptions) config() (*githubapp.Config, error) {
	return githubapp.ConfigFromLookup(o.lookup)
}

// lookup resolves configuration variables from flags and falls back to
// environment variables.
func (o *rootOptions) lookup(key string) (string, bool) {
	switch key {
	case githubapp.EnvAppID:
		if o.appID != 0 {
			return strconv.FormatUint(o.appID, 10), true
		}
	case githubapp.EnvPrivateKey:
		// Key file flag overrides inline key from the environment.
		if o.keyFile != "" {
			return "", false
		}
	case githubapp.EnvPrivateKeyPath:
		if o.keyFile != "" {
			return o.keyFile, true
		}
	case githubapp.EnvBaseURL:
		if o.baseURL != "" {
			return o.baseURL, true
		}
	}
	return os.LookupEnv(key)
}

// manager returns [githubapp.Manager] configured from flags.
func (o *rootOptions) manager(cmd *cobra.Command, opts ...githubapp.Option) (*githubapp.Manager, error) {
	c, err := o.config()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.DiscardHandler)
	if o.verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	return githubapp.NewManager(c,
		githubapp.Options(opts...),
		githubapp.WithLogger(logger),
		githubapp.WithUserAgent(userAgent),
	)
}

// errSignatureMismatch is returned by verify command when signature
// does not match the payload.
var errSignatureMismatch = errors.New("signature mismatch")
