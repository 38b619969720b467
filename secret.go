// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"fmt"
	"io"
	"log/slog"
)

// redacted is rendered in place of secret values.
const redacted = "REDACTED"

var (
	_ fmt.Stringer   = Secret{}
	_ fmt.GoStringer = Secret{}
	_ fmt.Formatter  = Secret{}
	_ slog.LogValuer = Secret{}
)

// Secret holds sensitive string like private key or access token.
//
// All textual representations of Secret (fmt verbs, slog, JSON and text
// marshaling) print "REDACTED". Use [Secret.Reveal] to get the actual value.
//
// Value is held behind a pointer, so printing a struct which embeds Secret
// in an unexported field only prints an address.
type Secret struct {
	value *string
}

// NewSecret wraps value as a [Secret].
func NewSecret(value string) Secret {
	return Secret{value: &value}
}

// Reveal returns the actual secret value. Only use it when transmitting
// the value to GitHub.
func (s Secret) Reveal() string {
	if s.value == nil {
		return ""
	}
	return *s.value
}

// IsZero returns true if secret is empty.
func (s Secret) IsZero() bool {
	return s.value == nil || *s.value == ""
}

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return "githubapp.Secret{" + redacted + "}"
}

// Format implements [fmt.Formatter]. All verbs print redacted value.
func (s Secret) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('#') {
			_, _ = io.WriteString(f, s.GoString())
			return
		}
	case 'q':
		_, _ = io.WriteString(f, `"`+redacted+`"`)
		return
	}
	_, _ = io.WriteString(f, redacted)
}

// LogValue implements [log/slog.LogValuer].
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// MarshalText implements [encoding.TextMarshaler].
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// MarshalJSON implements [encoding/json.Marshaler].
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
