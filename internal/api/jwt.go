// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var _ jwt.Claims = (*JWTClaims)(nil)

// JWTClaims as required by GitHub app.
//
// Audience is always serialized as a single string, unlike
// [jwt.RegisteredClaims] which may serialize it as an array.
type JWTClaims struct {
	ID       string `json:"jti"`
	IssuedAt int64  `json:"iat"`
	Exp      int64  `json:"exp"`
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
}

func (c *JWTClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}

func (c *JWTClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c *JWTClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

func (c *JWTClaims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

func (c *JWTClaims) GetSubject() (string, error) {
	return "", nil
}

func (c *JWTClaims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Audience}, nil
}

// JWTHeader is always of type RS256.
type JWTHeader struct {
	Type string `json:"typ"`
	Alg  string `json:"alg"`
}

// EncodedJWTHeader is pre-encoded JWT header. GitHub apps only use
// RS256 JWT.
const EncodedJWTHeader = "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9"
