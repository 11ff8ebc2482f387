// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

const operationTokenRequest = "token_request"

// Provider runs the OIDC authorization code flow callback and the refresh
// flow for one authority.  It reads the authority's endpoints from previously
// stored issuer metadata and keeps no per-flow state, so it's safe for
// concurrent use by independent flows.
type Provider struct {
	config    *Config
	metadata  MetadataReader
	transport Transport
	keys      KeySource
	validator *TokenValidator
	retrier   *retrier
	logger    hclog.Logger
	metrics   *Metrics
}

// NewProvider creates a Provider.  Unlike discovery, it makes no requests.
// Token requests that couldn't reach the provider are retried every
// c.RefreshRetryDelay until they succeed or the ctx passed to a flow is done.
//
// Supported options: WithLogger, WithClock, WithMetrics, WithTransport,
// WithKeySource
func NewProvider(c *Config, metadata MetadataReader, opt ...Option) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%s: metadata reader is nil: %w", op, ErrNilParameter)
	}
	opts := getProviderOpts(opt...)

	t := opts.withTransport
	if t == nil {
		client, err := c.HttpClient()
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
		t = NewHTTPTransport(client)
	}
	keys := opts.withKeySource
	if keys == nil {
		kp, err := NewKeyProvider(c, metadata, t,
			WithLogger(opts.withLogger.Named("keys")),
			WithClock(opts.withClock),
			WithMetrics(opts.withMetrics),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create key provider: %w", op, err)
		}
		keys = kp
	}
	v, err := NewTokenValidator(c, keys, WithLogger(opts.withLogger), WithClock(opts.withClock))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create token validator: %w", op, err)
	}
	policy := RetryPolicy{Delay: c.RefreshRetryDelay, MaxRetries: UnboundedRetries}
	return &Provider{
		config:    c,
		metadata:  metadata,
		transport: t,
		keys:      keys,
		validator: v,
		retrier:   newRetrier(operationTokenRequest, policy, opts.withClock, opts.withLogger, opts.withMetrics),
		logger:    opts.withLogger,
		metrics:   opts.withMetrics,
	}, nil
}

// Config returns the provider's config.
func (p *Provider) Config() *Config { return p.config }

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with an IdP.  The IdP redirects to the config's
// RedirectUrl once the user has authenticated.
//
// See NewState() to create an oidc flow State with a valid Id and Nonce that
// will uniquely identify the user's authentication attempt throughout the
// flow.
//
// Supported options: WithScopes, WithUILocales, WithPrompt, WithMaxAge
func (p *Provider) AuthURL(ctx context.Context, s State, opt ...Option) (string, error) {
	const op = "Provider.AuthURL"
	if s == nil {
		return "", fmt.Errorf("%s: state is nil: %w", op, ErrNilParameter)
	}
	if s.Id() == s.Nonce() {
		return "", fmt.Errorf("%s: state id and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	md, err := readIssuerMetadata(ctx, p.metadata, p.config.Authority)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if md.AuthorizationEndpoint == "" {
		return "", fmt.Errorf("%s: authorization endpoint not defined: %w", op, ErrMissingIssuerMetadata)
	}
	opts := getAuthURLOpts(opt...)
	if err := validPrompts(opts.withPrompts); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	scopes := p.config.Scopes
	if len(opts.withScopes) > 0 {
		scopes = opts.withScopes
	}
	// Add the "openid" scope, which is a required scope for oidc flows
	scopes = append([]string{oidc.ScopeOpenID}, removeScope(scopes, oidc.ScopeOpenID)...)

	oauth2Config := oauth2.Config{
		ClientID:    p.config.ClientId,
		RedirectURL: p.config.RedirectUrl,
		Endpoint: oauth2.Endpoint{
			AuthURL:  md.AuthorizationEndpoint,
			TokenURL: md.TokenEndpoint,
		},
		Scopes: scopes,
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(s.Nonce()),
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, l := range opts.withUILocales {
			locales = append(locales, l.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	if len(opts.withPrompts) > 0 {
		prompts := make([]string, 0, len(opts.withPrompts))
		for _, pr := range opts.withPrompts {
			prompts = append(prompts, string(pr))
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", strings.Join(prompts, " ")))
	}
	if opts.withMaxAge != nil {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("max_age", strconv.FormatUint(uint64(*opts.withMaxAge), 10)))
	}
	return oauth2Config.AuthCodeURL(s.Id(), authCodeOpts...), nil
}

// requestTokens sends the grant to the authority's token endpoint.  The
// returned AuthResult is the response as received.
func (p *Provider) requestTokens(ctx context.Context, g TokenGrant, label string) (AuthResult, error) {
	const op = "Provider.requestTokens"
	md, err := readIssuerMetadata(ctx, p.metadata, p.config.Authority)
	if err != nil {
		return AuthResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if md.TokenEndpoint == "" {
		return AuthResult{}, fmt.Errorf("%s: authority %s: %w", op, p.config.Authority, ErrMissingTokenEndpoint)
	}
	body, headers, err := BuildTokenRequest(p.config, g)
	if err != nil {
		return AuthResult{}, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := p.retrier.do(ctx, func(ctx context.Context) ([]byte, error) {
		return p.transport.Post(ctx, md.TokenEndpoint, body, headers)
	})
	if err != nil {
		p.logger.Error("token request failed", "authority", p.config.Authority, "grant_type", g.Type, "error", describeFailure(err))
		return AuthResult{}, fmt.Errorf("%s: %w: %s request %s: %w", op, ErrTokenExchangeFailed, label, p.config.Authority, err)
	}
	var r AuthResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return AuthResult{}, fmt.Errorf("%s: %w: %s request %s: unable to decode response: %w", op, ErrTokenExchangeFailed, label, p.config.Authority, err)
	}
	return r, nil
}

func removeScope(scopes []string, scope string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s != scope {
			out = append(out, s)
		}
	}
	return out
}

// providerOptions is the set of available options for Provider
type providerOptions struct {
	withLogger    hclog.Logger
	withClock     clockwork.Clock
	withMetrics   *Metrics
	withTransport Transport
	withKeySource KeySource
}

// providerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
	}
}

// getProviderOpts gets the defaults and applies the opt overrides passed in.
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTransport provides an optional Transport for the Provider, replacing
// the one built from Config.HttpClient.
func WithTransport(t Transport) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withTransport = t
		}
	}
}

// WithKeySource provides an optional KeySource for the Provider, replacing
// the default KeyProvider.  See NewCachingKeySource.
func WithKeySource(ks KeySource) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withKeySource = ks
		}
	}
}

// Prompt is an oidc authentication request "prompt" value.
type Prompt string

const (
	None          Prompt = "none"
	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)

func validPrompts(prompts []Prompt) error {
	for _, p := range prompts {
		switch p {
		case None:
			if len(prompts) > 1 {
				return fmt.Errorf("prompt none cannot be combined with other prompts: %w", ErrInvalidParameter)
			}
		case Login, Consent, SelectAccount:
		default:
			return fmt.Errorf("unsupported prompt %q: %w", p, ErrInvalidParameter)
		}
	}
	return nil
}

// authURLOptions is the set of available options for Provider.AuthURL
type authURLOptions struct {
	withScopes    []string
	withUILocales []language.Tag
	withPrompts   []Prompt
	withMaxAge    *uint
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	var opts authURLOptions
	ApplyOpts(&opts, opt...)
	return opts
}

// WithUILocales provides the end-user's preferred languages for the
// provider's UI, in order of preference.
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withUILocales = locales
		}
	}
}

// WithPrompt provides the authentication request "prompt" values.
func WithPrompt(prompts ...Prompt) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withPrompts = prompts
		}
	}
}

// WithMaxAge provides the authentication request "max_age" in seconds.
func WithMaxAge(seconds uint) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withMaxAge = &seconds
		}
	}
}
