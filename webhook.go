// SPDX-FileCopyrightText: Copyright 2023 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/release-regent/go-githubapp/internal/api"
)

var (
	_ slog.LogValuer = (*WebHook)(nil)
)

// Errors returned by [VerifySignature] and [VerifyWebHookRequest].
//
//   - [ErrWebHookRequest] is returned when request is invalid, or missing
//     github webhook metadata headers (X-GitHub-Event, X-GitHub-Hook-ID etc).
//   - [ErrWebhookSignature] is returned when signature is invalid, missing
//     or malformed.
//   - [ErrSignatureFormat] is returned when signature does not have
//     "sha256=" prefix. It also matches [ErrWebhookSignature].
//   - [ErrSignatureEncoding] is returned when signature is not hex encoded.
//     It also matches [ErrWebhookSignature].
//
// None of the errors include the webhook secret or the payload.
const (
	ErrWebHookRequest    = Error("githubapp(webhook): invalid request")
	ErrWebhookSignature  = Error("githubapp(webhook): signature is invalid")
	ErrSignatureFormat   = Error("githubapp(webhook): invalid signature format")
	ErrSignatureEncoding = Error("githubapp(webhook): invalid signature encoding")
)

// VerifySignature verifies HMAC-SHA256 signature of the webhook payload.
//
// signature must be of the form "sha256=<hex digest>" as sent by GitHub in
// X-Hub-Signature-256 header. Returns true only if signature matches the
// HMAC-SHA256 of payload keyed with secret. Digests are compared in
// constant time. A well-formed signature of incorrect length returns false.
func VerifySignature(payload []byte, signature string, secret string) (bool, error) {
	digest, ok := strings.CutPrefix(signature, api.SignaturePrefix)
	if !ok {
		return false, fmt.Errorf("%w: %w: missing prefix %s",
			ErrWebhookSignature, ErrSignatureFormat, api.SignaturePrefix)
	}

	untrusted, err := hex.DecodeString(digest)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrWebhookSignature, ErrSignatureEncoding)
	}

	hasher := hmac.New(sha256.New, []byte(secret))
	hasher.Write(payload)

	// hmac.Equal returns early on length mismatch only.
	return hmac.Equal(hasher.Sum(nil), untrusted), nil
}

// WebHook is returned by [VerifyWebHookRequest] upon successful verification of
// the webhook request. It contains all the webhook payloads with additional info
// from headers to detect github app installation.
type WebHook struct {
	// ID is webhook ID received in X-GitHub-Hook-ID header.
	ID string

	// Event is event type like "issues" received in X-GitHub-Event header.
	Event string

	// Payload is payload received in POST.
	Payload []byte

	// Delivery is unique delivery id received in X-GitHub-Delivery header.
	Delivery string

	// Signature is HMAC hex digest of the request body with prefix "sha256=".
	// This is populated from X-Hub-Signature-256 header.
	Signature string

	// Hook installation target ID. For app webhooks this is the app id.
	InstallationTargetID uint64

	// InstallationType can be repository|organization|integration etc.
	InstallationType string
}

func (w *WebHook) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", w.ID),
		slog.String("event_type", w.Event),
		slog.String("delivery_id", w.Delivery),
		slog.String("installation_type", w.InstallationType),
		slog.Uint64("installation_target_id", w.InstallationTargetID),
	)
}

// VerifyWebHookRequest is a simple function to verify webhook HMAC-SHA256 signature.
//
// This functions assumes that headers are canonical by default and have not been
// modified. Only HMAC-SHA256 signatures is considered for verification.
//
// Typically HMAC secret would be []byte, but as it may be updated via web interface,
// which can only accept strings.
func VerifyWebHookRequest(secret string, req *http.Request) (WebHook, error) {
	if req == nil {
		return WebHook{}, fmt.Errorf("%w: request is nil", ErrWebHookRequest)
	}

	if !strings.EqualFold(req.Method, http.MethodPost) {
		return WebHook{}, fmt.Errorf("%w: unsupported method %s",
			ErrWebHookRequest, req.Method)
	}

	if req.Header == nil {
		return WebHook{}, fmt.Errorf("%w: headers are nil", ErrWebHookRequest)
	}

	// Ensure other X-GitHub-* headers are populated.
	requiredHeaders := [...]string{
		api.EventHeader,
		api.HookIDHeader,
		api.DeliveryHeader,
		api.InstallationTargetTypeHeader,
		api.InstallationTargetIDHeader,
		api.ContentTypeHeader,
	}
	for _, item := range requiredHeaders {
		if req.Header.Get(item) == "" {
			return WebHook{}, fmt.Errorf("%w: missing or empty %s header",
				ErrWebHookRequest, item)
		}
	}

	// Only support content type application/json.
	if req.Header.Get(api.ContentTypeHeader) != api.ContentTypeJSON {
		return WebHook{}, fmt.Errorf("%w: invalid %s header: %s",
			ErrWebHookRequest, api.ContentTypeHeader, req.Header.Get(api.ContentTypeHeader))
	}

	// Ensure X-GitHub-Hook-Installation-Target-ID header is an integer.
	targetID, err := strconv.ParseUint(req.Header.Get(api.InstallationTargetIDHeader), 10, 64)
	if err != nil {
		return WebHook{}, fmt.Errorf("%w: invalid %s header (%s): %w",
			ErrWebHookRequest, api.InstallationTargetIDHeader,
			req.Header.Get(api.InstallationTargetIDHeader), err)
	}

	signature := req.Header.Get(api.SignatureSHA256Header)
	if signature == "" {
		return WebHook{}, fmt.Errorf("%w: missing or empty %s header",
			ErrWebhookSignature, api.SignatureSHA256Header)
	}

	if req.Body == nil {
		return WebHook{}, fmt.Errorf("%w: request body is nil", ErrWebHookRequest)
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return WebHook{}, fmt.Errorf("%w: failed to read request body: %w", ErrWebHookRequest, err)
	}

	ok, err := VerifySignature(data, signature, secret)
	if err != nil {
		return WebHook{}, err
	}

	if !ok {
		return WebHook{}, fmt.Errorf("%w: signature mismatch", ErrWebhookSignature)
	}

	return WebHook{
		ID:                   req.Header.Get(api.HookIDHeader),
		Delivery:             req.Header.Get(api.DeliveryHeader),
		Event:                req.Header.Get(api.EventHeader),
		Signature:            signature,
		InstallationTargetID: targetID,
		InstallationType:     req.Header.Get(api.InstallationTargetTypeHeader),
		Payload:              data,
	}, nil
}
