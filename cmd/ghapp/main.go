// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

// Command ghapp obtains GitHub app JWTs and installation access tokens,
// and verifies webhook signatures.
//
// App id, private key and GitHub Enterprise Server URL are read from flags,
// falling back to GITHUB_APP_ID, GITHUB_PRIVATE_KEY (or GITHUB_PRIVATE_KEY_PATH)
// and GITHUB_BASE_URL environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeMismatch is returned when webhook signature does not match.
	ExitCodeMismatch = 2
)

var version = "devel"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes the CLI with args and returns exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		if !errors.Is(err, errSignatureMismatch) {
			fmt.Fprintf(stderr, "Error: %s\n", err)
		}
		return exitCode(err)
	}
	return ExitCodeSuccess
}

// exitCode determines exit code based on the error type.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, errSignatureMismatch):
		return ExitCodeMismatch
	default:
		return ExitCodeError
	}
}
