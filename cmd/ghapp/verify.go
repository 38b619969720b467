// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/release-regent/go-githubapp"
	"github.com/spf13/cobra"
)

// envWebhookSecret is environment variable holding webhook secret.
const envWebhookSecret = "GITHUB_WEBHOOK_SECRET"

// maxPayloadSize is maximum webhook payload size accepted by GitHub.
const maxPayloadSize = 25 << 20

func newVerifyCmd() *cobra.Command {
	var secret, signature string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify webhook signature of payload read from stdin",
		Long: `Verify HMAC-SHA256 signature of webhook payload read from stdin.

Signature must be the value of X-Hub-Signature-256 header, like "sha256=<hex>".
Secret is read from --secret or GITHUB_WEBHOOK_SECRET environment variable.
Exits with code 2 if signature does not match.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv(envWebhookSecret)
			}
			if secret == "" {
				return errors.New("webhook secret not specified")
			}

			payload, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxPayloadSize+1))
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}
			if len(payload) > maxPayloadSize {
				return errors.New("payload too large")
			}

			ok, err := githubapp.VerifySignature(payload, signature, secret)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.ErrOrStderr(), "Signature mismatch")
				return errSignatureMismatch
			}
			_, err = fmt.Fprintln(cmd.ErrOrStderr(), "Signature verified")
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Webhook secret")
	cmd.Flags().StringVar(&signature, "signature", "", "Signature, value of X-Hub-Signature-256 header")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
