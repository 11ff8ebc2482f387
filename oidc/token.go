// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"
)

// DefaultTokenExpirySkew defines a default time skew when checking a Token's
// expiration.
const DefaultTokenExpirySkew = 10 * time.Second

// Token is the validated set of tokens produced by a successful code exchange
// or refresh.
type Token struct {
	IdToken      IdToken
	AccessToken  AccessToken
	RefreshToken RefreshToken
	TokenType    string
	Scope        string

	// Expiry is the access_token's expiration, derived from the token
	// endpoint's expires_in.  A zero Expiry means the provider didn't say.
	Expiry time.Time
}

// newToken builds a Token from a token endpoint response received at now.
func newToken(r *AuthResult, now time.Time) *Token {
	t := &Token{
		IdToken:      r.IdToken,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Scope:        r.Scope,
	}
	if secs, err := r.ExpiresIn.Int64(); err == nil && secs > 0 {
		t.Expiry = now.Add(time.Duration(secs) * time.Second)
	}
	return t
}

// Expired will return true if the token's access_token is expired. Supports
// the WithExpirySkew and WithNow options.
func (t *Token) Expired(opt ...Option) bool {
	if t.Expiry.IsZero() {
		return false
	}
	opts := getTokenOpts(opt...)
	return t.Expiry.Round(0).Before(opts.withNowFunc().Add(opts.withExpirySkew))
}

// Valid will ensure that the access_token is not empty or expired.
func (t *Token) Valid(opt ...Option) bool {
	if t == nil {
		return false
	}
	if t.AccessToken == "" {
		return false
	}
	return !t.Expired(opt...)
}

// tokenOptions is the set of available options for Token functions
type tokenOptions struct {
	withExpirySkew time.Duration
	withNowFunc    func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultTokenExpirySkew,
		withNowFunc:    time.Now,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
