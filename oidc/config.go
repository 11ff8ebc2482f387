// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/capflow/jwt"
	"github.com/hashicorp/capflow/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/capflow/sdk/http"
	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultRefreshRetryDelay is how long to wait before resubmitting a token
	// request after the provider could not be reached.
	DefaultRefreshRetryDelay = 3 * time.Second

	// DefaultKeyFetchMaxRetries bounds the retries of a JWKS fetch, so at most
	// DefaultKeyFetchMaxRetries+1 requests are made.
	DefaultKeyFetchMaxRetries = 2

	// DefaultClockSkew is the tolerance applied when checking an id_token's
	// expiry.
	DefaultClockSkew = 1 * time.Minute
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the configuration for an OIDC authorization code flow
// relying party and the token lifecycle that follows it.
type Config struct {
	// Authority is the issuer identifier. An id_token's "iss" claim must equal
	// it, and it is the key used to read the issuer's metadata.
	Authority string

	// ClientId is the relying party id
	ClientId string

	// ClientSecret is an optional relying party secret. When set, token
	// requests authenticate with HTTP Basic auth.
	ClientSecret ClientSecret

	// RedirectUrl is sent with the code exchange and must match the one used
	// when the authorization request was made.
	RedirectUrl string

	// Scopes is a list of additional oidc scopes to request of the provider.
	// The required "openid" scope is always requested.
	Scopes []string

	// SupportedSigningAlgs is a list of supported id_token signing algorithms.
	SupportedSigningAlgs []Alg

	// Audiences is an optional list of case-sensitive strings; when set the
	// id_token's "aud" claim must contain at least one of them in addition to
	// the ClientId.
	Audiences []string

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// RefreshRetryDelay is the wait between attempts when a token request
	// fails because no connection could be established.
	RefreshRetryDelay time.Duration

	// KeyFetchMaxRetries bounds retries of the JWKS request.
	KeyFetchMaxRetries int

	// KeyFetchRetryDelay is the wait between JWKS attempts.
	KeyFetchRetryDelay time.Duration

	// ClockSkew is the tolerance used when checking token expiry.
	ClockSkew time.Duration

	// CustomTokenParams are appended to every token request body.
	CustomTokenParams map[string]string
}

// NewConfig composes a new config for a relying party.
//
// Supported options:
//   - WithClientSecret
//   - WithScopes
//   - WithAudiences
//   - WithProviderCA
//   - WithRefreshRetryDelay
//   - WithKeyFetchRetries
//   - WithKeyFetchRetryDelay
//   - WithClockSkew
//   - WithCustomTokenParams
func NewConfig(authority string, clientId string, supported []Alg, redirectUrl string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Authority:            authority,
		ClientId:             clientId,
		ClientSecret:         opts.withClientSecret,
		RedirectUrl:          redirectUrl,
		Scopes:               opts.withScopes,
		SupportedSigningAlgs: supported,
		Audiences:            opts.withAudiences,
		ProviderCA:           opts.withProviderCA,
		RefreshRetryDelay:    opts.withRefreshRetryDelay,
		KeyFetchMaxRetries:   opts.withKeyFetchMaxRetries,
		KeyFetchRetryDelay:   opts.withKeyFetchRetryDelay,
		ClockSkew:            opts.withClockSkew,
		CustomTokenParams:    opts.withCustomTokenParams,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the configuration. Among other validations, it verifies the
// authority is a http or https URL, but it doesn't verify the authority is
// reachable. Every problem found is reported.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientId == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.RedirectUrl == "" {
		result = multierror.Append(result, fmt.Errorf("redirect URL is empty: %w", ErrInvalidParameter))
	}
	switch {
	case c.Authority == "":
		result = multierror.Append(result, fmt.Errorf("authority is empty: %w", ErrInvalidParameter))
	default:
		u, err := url.Parse(c.Authority)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("authority %s is invalid: %w: %w", c.Authority, ErrInvalidParameter, err))
		case !strutils.StrListContains([]string{"https", "http"}, u.Scheme):
			result = multierror.Append(result, fmt.Errorf("authority %s scheme %q is not http or https: %w", c.Authority, u.Scheme, ErrInvalidParameter))
		}
	}
	if len(c.SupportedSigningAlgs) == 0 {
		result = multierror.Append(result, fmt.Errorf("supported algorithms is empty: %w", ErrInvalidParameter))
	}
	for _, a := range c.SupportedSigningAlgs {
		if err := jwt.SupportedSigningAlgorithm(a); err != nil {
			result = multierror.Append(result, fmt.Errorf("unsupported algorithm %s: %w", a, ErrInvalidParameter))
		}
	}
	if c.RefreshRetryDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("refresh retry delay is negative: %w", ErrInvalidParameter))
	}
	if c.KeyFetchMaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("key fetch retries is negative: %w", ErrInvalidParameter))
	}
	if c.KeyFetchRetryDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("key fetch retry delay is negative: %w", ErrInvalidParameter))
	}
	if c.ClockSkew < 0 {
		result = multierror.Append(result, fmt.Errorf("clock skew is negative: %w", ErrInvalidParameter))
	}
	for k := range c.CustomTokenParams {
		if reservedTokenParams[k] {
			result = multierror.Append(result, fmt.Errorf("custom token param %q is reserved: %w", k, ErrInvalidParameter))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HttpClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	client, err := sdkHttp.NewClient(c.ProviderCA)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withClientSecret       ClientSecret
	withScopes             []string
	withAudiences          []string
	withProviderCA         string
	withRefreshRetryDelay  time.Duration
	withKeyFetchMaxRetries int
	withKeyFetchRetryDelay time.Duration
	withClockSkew          time.Duration
	withCustomTokenParams  map[string]string
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withRefreshRetryDelay:  DefaultRefreshRetryDelay,
		withKeyFetchMaxRetries: DefaultKeyFetchMaxRetries,
		withClockSkew:          DefaultClockSkew,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientSecret provides an optional client secret for the config
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = secret
		}
	}
}

// WithScopes provides an optional list of scopes for the config and for
// Provider.AuthURL
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *authURLOptions:
			v.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences for the config
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithProviderCA provides an optional CA cert for the config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithRefreshRetryDelay overrides DefaultRefreshRetryDelay
func WithRefreshRetryDelay(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRefreshRetryDelay = d
		}
	}
}

// WithKeyFetchRetries overrides DefaultKeyFetchMaxRetries
func WithKeyFetchRetries(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withKeyFetchMaxRetries = n
		}
	}
}

// WithKeyFetchRetryDelay sets the wait between JWKS attempts (default none)
func WithKeyFetchRetryDelay(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withKeyFetchRetryDelay = d
		}
	}
}

// WithClockSkew overrides DefaultClockSkew
func WithClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClockSkew = d
		}
	}
}

// WithCustomTokenParams provides parameters appended to every token request
func WithCustomTokenParams(params map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withCustomTokenParams = params
		}
	}
}
