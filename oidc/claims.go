// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
)

// IdTokenClaims are the registered id_token claims used when validating a
// token endpoint response.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDToken
type IdTokenClaims struct {
	Issuer          string               `json:"iss"`
	Subject         string               `json:"sub"`
	Audience        josejwt.Audience     `json:"aud"`
	Expiry          *josejwt.NumericDate `json:"exp,omitempty"`
	IssuedAt        *josejwt.NumericDate `json:"iat,omitempty"`
	AuthTime        *josejwt.NumericDate `json:"auth_time,omitempty"`
	Nonce           string               `json:"nonce,omitempty"`
	AccessTokenHash string               `json:"at_hash,omitempty"`
	CodeHash        string               `json:"c_hash,omitempty"`
	AuthorizedParty string               `json:"azp,omitempty"`
	SessionId       string               `json:"sid,omitempty"`
}

// parseAlgs is every algorithm go-jose can parse. Parsing without verifying
// must not be what rejects a token's alg.
var parseAlgs = []jose.SignatureAlgorithm{
	jose.EdDSA,
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
}

// UnmarshalClaims will retrieve the claims from the provided raw JWT token
// without verifying its signature.
func UnmarshalClaims(rawToken string, claims interface{}) error {
	const op = "UnmarshalClaims"
	if rawToken == "" {
		return fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	jws, err := jose.ParseSigned(rawToken, parseAlgs)
	if err != nil {
		return fmt.Errorf("%s: malformed jwt: %w: %w", op, ErrInvalidParameter, err)
	}
	// encoding/json, unlike go-jose's decoder, matches untagged fields case
	// insensitively.
	if err := json.Unmarshal(jws.UnsafePayloadWithoutVerification(), claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal jwt claims: %w: %w", op, ErrInvalidParameter, err)
	}
	return nil
}

// decodePayloadClaims unmarshals a verified JWS payload into both the typed
// and the raw claim sets.
func decodePayloadClaims(payload []byte) (*IdTokenClaims, map[string]interface{}, error) {
	var claims IdTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, nil, err
	}
	raw := map[string]interface{}{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, nil, err
	}
	return &claims, raw, nil
}

func sameAudience(a, b josejwt.Audience) bool {
	if len(a) != len(b) {
		return false
	}
	for _, v := range a {
		if !b.Contains(v) {
			return false
		}
	}
	return true
}

func sameNumericDate(a, b *josejwt.NumericDate) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}
