// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/release-regent/go-githubapp/internal/api"
)

// Environment variables used by [ConfigFromEnv].
const (
	EnvAppID          = "GITHUB_APP_ID"
	EnvPrivateKey     = "GITHUB_PRIVATE_KEY"
	EnvPrivateKeyPath = "GITHUB_PRIVATE_KEY_PATH"
	EnvBaseURL        = "GITHUB_BASE_URL"
)

// Defaults for [Config].
const (
	// DefaultJWTExpiration is lifetime of app JWT. This is also the
	// maximum allowed by GitHub.
	DefaultJWTExpiration = 10 * time.Minute

	// DefaultRefreshBuffer is how long before expiry an installation
	// token is considered expired.
	DefaultRefreshBuffer = 5 * time.Minute
)

var (
	_ slog.LogValuer = (*Config)(nil)
	_ fmt.Formatter  = (*Config)(nil)
)

// Config is validated, immutable GitHub app configuration.
//
// Config never renders the private key. All fmt verbs and [log/slog]
// print it as "REDACTED".
type Config struct {
	appID         uint64
	privateKey    Secret
	key           *rsa.PrivateKey
	baseURL       string // enterprise base url, empty for github.com
	jwtExpiration time.Duration
	refreshBuffer time.Duration
}

// ConfigOption configures timing parameters of [Config].
type ConfigOption func(c *Config) error

// WithJWTExpiration configures lifetime of app JWT. It must be
// whole seconds and at most 10 minutes. Default is [DefaultJWTExpiration].
func WithJWTExpiration(d time.Duration) ConfigOption {
	return func(c *Config) error {
		switch {
		case d <= 0:
			return fmt.Errorf("jwt expiration must be positive: %s", d)
		case d > DefaultJWTExpiration:
			return fmt.Errorf("jwt expiration cannot exceed %s: %s", DefaultJWTExpiration, d)
		case d%time.Second != 0:
			return fmt.Errorf("jwt expiration must be whole seconds: %s", d)
		}
		c.jwtExpiration = d
		return nil
	}
}

// WithRefreshBuffer configures how long before expiry cached installation
// tokens are treated as expired. Default is [DefaultRefreshBuffer].
func WithRefreshBuffer(d time.Duration) ConfigOption {
	return func(c *Config) error {
		if d < 0 {
			return fmt.Errorf("refresh buffer cannot be negative: %s", d)
		}
		c.refreshBuffer = d
		return nil
	}
}

// NewConfig validates and returns a new [Config].
//
//   - appid cannot be zero.
//   - privateKey must be PEM encoded (PKCS1 or PKCS8) RSA private key
//     of at least 2048 bits.
//   - baseURL is optional. When empty, github.com is used. Otherwise it must
//     be an absolute http(s) URL of GitHub Enterprise Server, like
//     "https://ghe.example.com".
//
// All errors wrap [ErrConfiguration] and never include key material.
func NewConfig(appid uint64, privateKey string, baseURL string, opts ...ConfigOption) (*Config, error) {
	var err error
	c := &Config{
		appID:         appid,
		privateKey:    NewSecret(privateKey),
		jwtExpiration: DefaultJWTExpiration,
		refreshBuffer: DefaultRefreshBuffer,
	}

	if appid == 0 {
		err = errors.Join(err, errors.New("app id cannot be zero"))
	}

	key, kerr := parsePrivateKey(privateKey)
	if kerr != nil {
		err = errors.Join(err, kerr)
	}
	c.key = key

	if baseURL != "" {
		u, uerr := parseBaseURL(baseURL)
		if uerr != nil {
			err = errors.Join(err, uerr)
		}
		c.baseURL = u
	}

	for i := range opts {
		if opts[i] != nil {
			err = errors.Join(err, opts[i](c))
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return c, nil
}

// ConfigFromEnv returns [Config] from environment variables.
//
//   - GITHUB_APP_ID is GitHub app id (required).
//   - GITHUB_PRIVATE_KEY is PEM encoded private key. Alternatively
//     GITHUB_PRIVATE_KEY_PATH can be path to the PEM file.
//   - GITHUB_BASE_URL is GitHub Enterprise Server URL (optional).
//
// Same validations as [NewConfig] apply.
func ConfigFromEnv(opts ...ConfigOption) (*Config, error) {
	return ConfigFromLookup(os.LookupEnv, opts...)
}

// ConfigFromLookup is like [ConfigFromEnv], but variables are resolved
// with lookup, which has the same semantics as [os.LookupEnv]. This allows
// callers to override some of the variables, for example with flags.
func ConfigFromLookup(lookup func(string) (string, bool), opts ...ConfigOption) (*Config, error) {
	if lookup == nil {
		return nil, fmt.Errorf("%w: lookup function is nil", ErrConfiguration)
	}

	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	var appid uint64
	var err error

	if v := get(EnvAppID); v == "" {
		err = errors.Join(err, fmt.Errorf("%s is not set", EnvAppID))
	} else {
		appid, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			err = fmt.Errorf("%s is not a valid app id", EnvAppID)
		}
	}

	key, _ := lookup(EnvPrivateKey)
	if strings.TrimSpace(key) == "" {
		if path := get(EnvPrivateKeyPath); path != "" {
			buf, rerr := os.ReadFile(path)
			if rerr != nil {
				err = errors.Join(err, fmt.Errorf("failed to read %s: %w", EnvPrivateKeyPath, rerr))
			}
			key = string(buf)
		} else {
			err = errors.Join(err, fmt.Errorf("%s or %s is not set", EnvPrivateKey, EnvPrivateKeyPath))
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return NewConfig(appid, key, get(EnvBaseURL), opts...)
}

// parsePrivateKey parses PEM encoded RSA private key. Returned errors
// never include the key or parser error strings.
func parsePrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	if strings.TrimSpace(pemKey) == "" {
		return nil, errors.New("private key is empty")
	}

	if !strings.Contains(pemKey, "-----BEGIN") || !strings.Contains(pemKey, "-----END") {
		return nil, errors.New("private key must be PEM encoded")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, errors.New("private key is not a valid RSA private key")
	}

	if key.N.BitLen() < 2048 {
		return nil, fmt.Errorf("rsa keys size(%d) < 2048 bits", key.N.BitLen())
	}
	return key, nil
}

// parseBaseURL validates enterprise base url and returns it without trailing slash.
func parseBaseURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		// url.Error echoes the input, which may include credentials.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return "", fmt.Errorf("invalid base url: %w", err)
	}

	if u.User != nil {
		return "", errors.New("base url cannot have credentials")
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid url scheme : %s (%s)", u.Scheme, baseURL)
	}

	if u.Host == "" {
		return "", fmt.Errorf("base url must be absolute: %s", baseURL)
	}

	if u.Fragment != "" || u.RawQuery != "" {
		return "", fmt.Errorf("base url cannot have fragments or queries: %s", baseURL)
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// AppID returns the GitHub app id.
func (c *Config) AppID() uint64 {
	return c.appID
}

// PrivateKey returns the PEM encoded private key as [Secret].
func (c *Config) PrivateKey() Secret {
	return c.privateKey
}

// IsEnterprise returns true if config targets GitHub Enterprise Server.
func (c *Config) IsEnterprise() bool {
	return c.baseURL != ""
}

// BaseURL returns configured enterprise base url. This is empty for github.com.
func (c *Config) BaseURL() string {
	return c.baseURL
}

// APIBaseURL returns REST API root. This is "https://api.github.com" for
// github.com and "{base}/api/v3" for GitHub Enterprise Server.
func (c *Config) APIBaseURL() string {
	if c.baseURL == "" {
		return api.DefaultEndpoint
	}
	return c.baseURL + api.EnterpriseAPIPath
}

// UploadURL returns upload API root for GitHub Enterprise Server.
// This is empty for github.com.
func (c *Config) UploadURL() string {
	if c.baseURL == "" {
		return ""
	}
	return c.baseURL + api.EnterpriseUploadPath
}

// JWTAudience returns audience for app JWT. This is "https://github.com"
// for github.com and enterprise base url otherwise.
func (c *Config) JWTAudience() string {
	if c.baseURL == "" {
		return api.DefaultAudience
	}
	return c.baseURL
}

// JWTExpiration returns lifetime of app JWT.
func (c *Config) JWTExpiration() time.Duration {
	return c.jwtExpiration
}

// RefreshBuffer returns duration before expiry at which cached
// installation tokens are treated as expired.
func (c *Config) RefreshBuffer() time.Duration {
	return c.refreshBuffer
}

// String returns config without private key.
func (c *Config) String() string {
	return fmt.Sprintf("Config{AppID:%d, BaseURL:%q, JWTExpiration:%s, RefreshBuffer:%s, PrivateKey:%s}",
		c.appID, c.baseURL, c.jwtExpiration, c.refreshBuffer, redacted)
}

// Format implements [fmt.Formatter]. All verbs print [Config.String].
func (c *Config) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, c.String())
}

// LogValue implements [log/slog.LogValuer].
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("app_id", c.appID),
		slog.String("api_base_url", c.APIBaseURL()),
		slog.Duration("jwt_expiration", c.jwtExpiration),
		slog.Duration("refresh_buffer", c.refreshBuffer),
		slog.String("private_key", redacted),
	)
}
