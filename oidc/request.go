// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// GrantType is an oauth token endpoint grant_type.
type GrantType string

const (
	AuthorizationCodeGrant GrantType = "authorization_code"
	RefreshTokenGrant      GrantType = "refresh_token"
)

// reservedTokenParams can't be overridden by Config.CustomTokenParams.
var reservedTokenParams = map[string]bool{
	"grant_type":    true,
	"code":          true,
	"redirect_uri":  true,
	"refresh_token": true,
	"client_id":     true,
}

// TokenGrant is the grant presented to a token endpoint.  Exactly one of Code
// or RefreshToken is used, depending on Type.
type TokenGrant struct {
	Type         GrantType
	Code         string
	RefreshToken RefreshToken
}

// NewCodeGrant returns an authorization_code grant.
func NewCodeGrant(code string) TokenGrant {
	return TokenGrant{Type: AuthorizationCodeGrant, Code: code}
}

// NewRefreshGrant returns a refresh_token grant.
func NewRefreshGrant(rt RefreshToken) TokenGrant {
	return TokenGrant{Type: RefreshTokenGrant, RefreshToken: rt}
}

// BuildTokenRequest returns the form-encoded body and headers for a token
// endpoint request.  The body starts with grant_type, followed by the
// grant's parameters, client_id and then Config.CustomTokenParams sorted by
// key.  It has no side effects.
func BuildTokenRequest(c *Config, g TokenGrant) (string, http.Header, error) {
	const op = "BuildTokenRequest"
	if c == nil {
		return "", nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var b formBuilder
	b.add("grant_type", string(g.Type))
	switch g.Type {
	case AuthorizationCodeGrant:
		if g.Code == "" {
			return "", nil, fmt.Errorf("%s: code is empty: %w", op, ErrInvalidParameter)
		}
		b.add("code", g.Code)
		b.add("redirect_uri", c.RedirectUrl)
	case RefreshTokenGrant:
		if g.RefreshToken == "" {
			return "", nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
		}
		b.add("refresh_token", string(g.RefreshToken))
	default:
		return "", nil, fmt.Errorf("%s: unsupported grant type %q: %w", op, g.Type, ErrInvalidParameter)
	}
	b.add("client_id", c.ClientId)

	keys := make([]string, 0, len(c.CustomTokenParams))
	for k := range c.CustomTokenParams {
		if reservedTokenParams[k] {
			return "", nil, fmt.Errorf("%s: custom token param %q is reserved: %w", op, k, ErrInvalidParameter)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.add(k, c.CustomTokenParams[k])
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded")
	headers.Set("Accept", "application/json")
	if c.ClientSecret != "" {
		headers.Set("Authorization", basicAuth(c.ClientId, string(c.ClientSecret)))
	}
	return b.String(), headers, nil
}

// formBuilder encodes form parameters in insertion order, which
// url.Values.Encode doesn't preserve.
type formBuilder struct {
	sb strings.Builder
}

func (b *formBuilder) add(k, v string) {
	if b.sb.Len() > 0 {
		b.sb.WriteByte('&')
	}
	b.sb.WriteString(url.QueryEscape(k))
	b.sb.WriteByte('=')
	b.sb.WriteString(url.QueryEscape(v))
}

func (b *formBuilder) String() string { return b.sb.String() }

// basicAuth encodes client credentials per RFC 6749 section 2.3.1.
func basicAuth(clientId, secret string) string {
	creds := url.QueryEscape(clientId) + ":" + url.QueryEscape(secret)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}
