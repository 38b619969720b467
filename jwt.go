// SPDX-FileCopyrightText: Copyright 2023 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/release-regent/go-githubapp/internal/api"
)

var (
	_ jwtMinter      = (*jwtRS256)(nil)
	_ slog.LogValuer = (*JWT)(nil)
	_ fmt.Formatter  = (*JWT)(nil)
)

// jwtClockSkew is how far in the past iat is set to allow for clock drift.
const jwtClockSkew = 30 * time.Second

// JWT is JWT token used to authenticate as app.
//
// Printing JWT with fmt or [log/slog] never includes the token.
type JWT struct {
	// JWT token.
	Token string `json:"token"`

	// ID is unique token id (jti claim).
	ID string `json:"jti,omitempty"`

	// GitHub app ID.
	AppID uint64 `json:"app_id,omitempty"`

	// Audience of the token (aud claim).
	Audience string `json:"aud,omitempty"`

	// Token exp time.
	Exp time.Time `json:"exp,omitempty"`

	// Token issue time.
	IssuedAt time.Time `json:"iat,omitempty"`
}

// LogValue implements [log/slog.LogValuer].
func (t JWT) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("app_id", t.AppID),
		slog.String("jti", t.ID),
		slog.String("aud", t.Audience),
		slog.Time("exp", t.Exp),
		slog.Time("iat", t.IssuedAt),
		slog.String("token", redacted),
	)
}

// Format implements [fmt.Formatter]. Token is always redacted.
func (t JWT) Format(f fmt.State, _ rune) {
	_, _ = fmt.Fprintf(f, "JWT{ID:%s, AppID:%d, Audience:%s, Exp:%s, IssuedAt:%s, Token:%s}",
		t.ID, t.AppID, t.Audience,
		t.Exp.Format(time.RFC3339), t.IssuedAt.Format(time.RFC3339), redacted)
}

// IsValid checks if [JWT] is valid for at-least 60 seconds.
func (t JWT) IsValid() bool {
	return t.isValidAt(time.Now())
}

func (t JWT) isValidAt(now time.Time) bool {
	return t.Token != "" && t.IssuedAt.Before(now) && t.Exp.After(now.Add(time.Minute))
}

// jwtMinter mints GitHub app JWT.
type jwtMinter interface {
	MintJWT(ctx context.Context, now time.Time) (JWT, error)
}

// jwtRS256 mints JWT tokens using RS256.
type jwtRS256 struct {
	key *rsa.PrivateKey
	iss uint64
	aud string
	exp time.Duration
}

// newJWTMinter returns a minter for the given config.
func newJWTMinter(c *Config) *jwtRS256 {
	return &jwtRS256{
		key: c.key,
		iss: c.appID,
		aud: c.JWTAudience(),
		exp: c.jwtExpiration,
	}
}

// MintJWT mints new JWT token. It holds no mutable state and is safe
// to call concurrently.
func (s *jwtRS256) MintJWT(ctx context.Context, now time.Time) (JWT, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return JWT{}, fmt.Errorf("%w: %w", ErrJWT, err)
		}
	}

	if s.key == nil {
		return JWT{}, fmt.Errorf("%w: no signing key", ErrJWT)
	}

	secs := int64(s.exp / time.Second)
	if secs <= 0 {
		return JWT{}, fmt.Errorf("%w: invalid expiration %s", ErrJWT, s.exp)
	}

	// GitHub rejects timestamps that are not an integer.
	iat := now.Truncate(time.Second).Add(-jwtClockSkew)
	if iat.Unix() > math.MaxInt64-secs {
		return JWT{}, fmt.Errorf("%w: expiration overflows", ErrJWT)
	}

	claims := &api.JWTClaims{
		ID:       uuid.New().String(),
		IssuedAt: iat.Unix(),
		Exp:      iat.Unix() + secs,
		Issuer:   strconv.FormatUint(s.iss, 10),
		Audience: s.aud,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		// Signing errors from crypto/rsa never include key material.
		return JWT{}, fmt.Errorf("%w: failed to sign: %w", ErrJWT, err)
	}

	return JWT{
		Token:    token,
		ID:       claims.ID,
		AppID:    s.iss,
		Audience: s.aud,
		IssuedAt: time.Unix(claims.IssuedAt, 0),
		Exp:      time.Unix(claims.Exp, 0),
	}, nil
}

// NewJWT returns new JWT bearer token for the app configured by c.
//
// Every call returns a distinct token, each with its own jti. Returned JWT
// is valid for [Config.JWTExpiration]. Ensure that your machine's clock is
// accurate. Unlike [Manager.JWT], this never re-uses tokens.
func NewJWT(ctx context.Context, c *Config) (JWT, error) {
	if c == nil {
		return JWT{}, fmt.Errorf("%w: %w", ErrJWT, errors.New("config is nil"))
	}
	return newJWTMinter(c).MintJWT(ctx, time.Now())
}

// String returns JWT without the token.
func (t JWT) String() string {
	return fmt.Sprint(t)
}
