// SPDX-FileCopyrightText: Copyright 2023 Prasad Tengse
// SPDX-License-Identifier: MIT

// Package testkeys generates ephemeral test keys.
//
// Generated keys are unique per execution of the binary and are generated
// on demand. PEM helpers render them in the formats GitHub hands out
// (PKCS1) and the formats users commonly convert to (PKCS8).
//
// DO NOT USE THESE KEYS OUTSIDE OF UNIT TESTING.
package testkeys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
)

var (
	rsa1024Once   sync.Once
	rsa2048Once   sync.Once
	rsaOtherOnce  sync.Once
	ecdsaP256Once sync.Once
)

var (
	rsa1024Private   *rsa.PrivateKey
	rsa2048Private   *rsa.PrivateKey
	rsaOtherPrivate  *rsa.PrivateKey
	ecdsaP256Private *ecdsa.PrivateKey
)

// Ephemeral RSA-1024 key which is unique per execution of the binary.
func RSA1024() *rsa.PrivateKey {
	rsa1024Once.Do(func() {
		//nolint:gosec // check to ensure key size < 2048 is rejected.
		rsa1024Private, _ = rsa.GenerateKey(rand.Reader, 1024)
	})
	return rsa1024Private
}

// Ephemeral RSA-2048 key which is unique per execution of the binary.
func RSA2048() *rsa.PrivateKey {
	rsa2048Once.Do(func() {
		rsa2048Private, _ = rsa.GenerateKey(rand.Reader, 2048)
	})
	return rsa2048Private
}

// Another ephemeral RSA-2048 key, different from [RSA2048]. Useful to
// check signatures do not verify with a wrong key.
func RSA2048Other() *rsa.PrivateKey {
	rsaOtherOnce.Do(func() {
		rsaOtherPrivate, _ = rsa.GenerateKey(rand.Reader, 2048)
	})
	return rsaOtherPrivate
}

// Ephemeral ECDSA-P256 key which is unique per execution of the binary.
func ECP256() *ecdsa.PrivateKey {
	ecdsaP256Once.Do(func() {
		ecdsaP256Private, _ = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	})
	return ecdsaP256Private
}

// PKCS1 returns "RSA PRIVATE KEY" PEM encoding of the key.
func PKCS1(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// PKCS8 returns "PRIVATE KEY" PEM encoding of the key.
func PKCS8(key any) string {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		panic("testkeys: failed to marshal PKCS8 key: " + err.Error())
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	}))
}

// RSA2048PEM returns PKCS1 PEM encoding of [RSA2048].
func RSA2048PEM() string {
	return PKCS1(RSA2048())
}
