// SPDX-FileCopyrightText: Copyright 2023 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Options takes a variadic slice of [Options] and returns
// a single [Options] which includes all the given options.
// This is useful for sharing presets. If conflicting options
// are specified, last one specified wins. As a special case,
// if no options are specified or all specified options are nil,
// this will return nil.
func Options(options ...Option) Option {
	nils := 0
	for i := range options {
		if options[i] == nil {
			nils++
		}
	}
	if len(options) == nils {
		return nil
	}

	return &funcOption{
		f: func(m *Manager) error {
			var err error
			for i := range options {
				if options[i] != nil {
					err = errors.Join(err, options[i].apply(m))
				}
			}
			return err
		},
	}
}

// Option is option to apply for [Manager].
type Option interface {
	apply(m *Manager) error
}

// funcOption wraps a function that is applied to the Manager
// during its initial configuration. It implements [Option]
// interface.
type funcOption struct {
	f func(*Manager) error
}

func (opt *funcOption) apply(m *Manager) error {
	return opt.f(m)
}

var (
	repoNameRegExp  = regexp.MustCompile("^(((.)[a-z-0-9-.]+)|([a-z0-9-]([a-z0-9-.]+)?))$")
	userNameRegExp  = regexp.MustCompile("^([a-z0-9]([a-z0-9-]+)?)$")
	permissionRegEx = regexp.MustCompile("^[a-z]([a-z_]+[a-z])?[:=](read|write|admin)$")
)

// WithRoundTripper configures [Manager] to use next as [http.RoundTripper]
// for token exchange, revocation and for clients built by the manager.
//
// This can be used to further customize headers, add logging or proxies.
func WithRoundTripper(next http.RoundTripper) Option {
	if next == nil {
		return nil
	}
	return &funcOption{
		f: func(m *Manager) error {
			m.next = next
			return nil
		},
	}
}

// WithUserAgent configures user agent header to use for API requests made
// by the [Manager]. Requests passing through [Transport] which already have
// a User-Agent header are not modified.
func WithUserAgent(ua string) Option {
	if strings.TrimSpace(ua) == "" {
		return nil
	}
	return &funcOption{
		f: func(m *Manager) error {
			m.ua = ua
			return nil
		},
	}
}

// WithLogger configures logger. By default, [Manager] does not log anything.
// Tokens and keys are never logged.
func WithLogger(logger *slog.Logger) Option {
	if logger == nil {
		return nil
	}
	return &funcOption{
		f: func(m *Manager) error {
			m.logger = logger
			return nil
		},
	}
}

// WithRetryPolicy configures retries of token exchange.
// See [DefaultRetryPolicy] for defaults.
func WithRetryPolicy(policy RetryPolicy) Option {
	return &funcOption{
		f: func(m *Manager) error {
			if policy.MaxRetries < 0 || policy.BaseDelay < 0 || policy.MaxDelay < 0 {
				return fmt.Errorf("invalid retry policy: negative values are not allowed: %+v", policy)
			}
			m.policy = policy
			return nil
		},
	}
}

// WithMinInterval configures minimum interval between token exchange requests.
// Zero disables local pacing. Default is [DefaultMinInterval].
func WithMinInterval(d time.Duration) Option {
	return &funcOption{
		f: func(m *Manager) error {
			if d < 0 {
				return fmt.Errorf("invalid min interval: %s", d)
			}
			m.minInterval = d
			return nil
		},
	}
}

// WithExchangeTimeout configures timeout for every token exchange attempt.
// Timeouts are treated as network errors and are retried per [RetryPolicy].
// Zero disables per-attempt timeout and only caller's context applies.
func WithExchangeTimeout(d time.Duration) Option {
	return &funcOption{
		f: func(m *Manager) error {
			if d < 0 {
				return fmt.Errorf("invalid exchange timeout: %s", d)
			}
			m.timeout = d
			return nil
		},
	}
}

// WithRepositories configures [Manager] to request installation tokens
// scoped to repos specified. Repositories may be specified as "owner/repo"
// or "repo", but must all belong to a single owner. Unlike other options,
// this can be used multiple times.
func WithRepositories(repos ...string) Option {
	if len(repos) == 0 {
		return nil
	}
	return &funcOption{
		f: func(m *Manager) error {
			refOwner := m.owner
			invalid := make([]string, 0, len(repos))
			for _, item := range repos {
				item = strings.ToLower(item)
				username, repo, ok := strings.Cut(item, "/")
				// Repository is in form username/repo.
				if ok {
					if !userNameRegExp.MatchString(username) {
						invalid = append(invalid, item)
						continue
					}

					if refOwner == "" {
						refOwner = username
					}

					// Repositories must be under a single installation.
					if username != refOwner {
						return fmt.Errorf("repositories from multiple owners specified: %v", repos)
					}
					item = repo
				}

				if !repoNameRegExp.MatchString(item) {
					invalid = append(invalid, item)
				} else {
					m.repos = append(m.repos, item)
				}
			}

			if len(invalid) > 0 {
				return fmt.Errorf("invalid repositories specified: %v", invalid)
			}

			// Sort before removing duplicates.
			slices.Sort(m.repos)
			m.repos = slices.Clip(slices.Compact(m.repos))

			if m.owner == "" && refOwner != "" {
				m.owner = refOwner
			}
			return nil
		},
	}
}

// WithPermissions configures permission scopes. This is useful when app has
// broader set of permissions a scoped access token is required.
//
// Permissions MUST be specified in <scope>:<access> or  <scope>=<access> format.
// Where scope is permission scope like "issues" and access can be one of
// "read", "write" or "admin".
//
// For example to request permissions to write issues and pull request can be specified as,
//
//	githubapp.WithPermissions("issues:write", "pull_requests:write")
func WithPermissions(permissions ...string) Option {
	if len(permissions) == 0 {
		return nil
	}
	return &funcOption{
		f: func(m *Manager) error {
			scopes := make(map[string]string, len(permissions))
			invalid := make([]string, 0, len(permissions))
			for _, item := range permissions {
				item = strings.ToLower(item)
				if permissionRegEx.MatchString(item) {
					// Regex already validates <scope>:<level> format.
					item = strings.ReplaceAll(item, "=", ":")
					scope, level, _ := strings.Cut(item, ":")
					scopes[scope] = level
				} else {
					invalid = append(invalid, item)
				}
			}
			if len(invalid) != 0 {
				return fmt.Errorf("invalid permissions: %v", invalid)
			}

			p, err := installationPermissions(scopes)
			if err != nil {
				return err
			}
			m.scopes = scopes
			m.permissions = p
			return nil
		},
	}
}

// withNow configures clock used for token freshness. Only used in tests.
func withNow(now func() time.Time) Option {
	return &funcOption{
		f: func(m *Manager) error {
			if now == nil {
				return errors.New("clock cannot be nil")
			}
			m.now = now
			return nil
		},
	}
}
