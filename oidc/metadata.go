// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IssuerMetadata is the subset of an issuer's discovery document used by the
// code and refresh flows.
//
// See: https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type IssuerMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	JwksUri               string   `json:"jwks_uri"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
	IdTokenSigningAlgs    []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// Clone returns a deep copy.
func (m *IssuerMetadata) Clone() *IssuerMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.IdTokenSigningAlgs = append([]string(nil), m.IdTokenSigningAlgs...)
	return &c
}

// MetadataReader is a keyed, read-only lookup of previously discovered issuer
// metadata. Implementations return an error wrapping ErrNotFound when there
// is no metadata for the authority.
type MetadataReader interface {
	ReadIssuerMetadata(ctx context.Context, authority string) (*IssuerMetadata, error)
}

// Discover fetches the issuer's metadata from its well-known discovery
// endpoint.  The issuer returned by the provider must match the one
// requested.  A nil client uses the pooled default.
func Discover(ctx context.Context, issuer string, client *http.Client) (*IssuerMetadata, error) {
	const op = "oidc.Discover"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if client != nil {
		ctx = HttpClientContext(ctx, client)
	}
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover issuer %s: %w", op, issuer, err)
	}
	var md IssuerMetadata
	if err := p.Claims(&md); err != nil {
		return nil, fmt.Errorf("%s: unable to decode discovery document: %w", op, err)
	}
	return &md, nil
}

// readIssuerMetadata reads the authority's metadata and returns a snapshot
// owned by the caller.
func readIssuerMetadata(ctx context.Context, r MetadataReader, authority string) (*IssuerMetadata, error) {
	md, err := r.ReadIssuerMetadata(ctx, authority)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("authority %s: %w", authority, ErrMissingIssuerMetadata)
	case err != nil:
		return nil, fmt.Errorf("authority %s: unable to read issuer metadata: %w", authority, err)
	case md == nil:
		return nil, fmt.Errorf("authority %s: %w", authority, ErrMissingIssuerMetadata)
	}
	return md.Clone(), nil
}
