// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// KeySet represents a set of keys that can be used to verify the signatures of JWTs.
type KeySet interface {
	// VerifySignature parses the given JWT, verifies its signature, and
	// returns its payload.
	VerifySignature(ctx context.Context, token string) (payload []byte, err error)
}

// Header is the subset of a JWS protected header needed to pick a verification
// key.
type Header struct {
	Alg   Alg
	KeyID string
}

// ParseHeader returns the protected header of a JWS compact serialized
// token without verifying its signature.
func ParseHeader(token string) (Header, error) {
	const op = "jwt.ParseHeader"
	jws, err := parseSigned(token, SupportedAlgs())
	if err != nil {
		return Header{}, fmt.Errorf("%s: %w", op, err)
	}
	h := jws.Signatures[0].Header
	return Header{Alg: Alg(h.Algorithm), KeyID: h.KeyID}, nil
}

// JSONWebKeySet verifies JWT signatures using an already fetched JSON Web Key
// Set. It never fetches keys itself.
type JSONWebKeySet struct {
	keys      *jose.JSONWebKeySet
	supported []Alg
}

// ensure that JSONWebKeySet implements the KeySet interface
var _ KeySet = (*JSONWebKeySet)(nil)

// NewJSONWebKeySet returns a KeySet that verifies JWT signatures using keys
// from the given set. Only tokens signed with one of the supported algs
// verify.
func NewJSONWebKeySet(keys *jose.JSONWebKeySet, supported ...Alg) (*JSONWebKeySet, error) {
	const op = "jwt.NewJSONWebKeySet"
	if keys == nil {
		return nil, fmt.Errorf("%s: key set is nil: %w", op, ErrInvalidParameter)
	}
	if len(supported) == 0 {
		return nil, fmt.Errorf("%s: supported algorithms are empty: %w", op, ErrInvalidParameter)
	}
	if err := SupportedSigningAlgorithm(supported...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &JSONWebKeySet{
		keys:      keys,
		supported: supported,
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using a key
// matching the token's "kid" and "alg" headers, and returns the payload. The
// given JWT must be of the JWS compact serialization form.
func (ks *JSONWebKeySet) VerifySignature(_ context.Context, token string) ([]byte, error) {
	const op = "JSONWebKeySet.VerifySignature"
	jws, err := parseSigned(token, ks.supported)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	h := jws.Signatures[0].Header
	candidates := ks.candidates(h.KeyID, Alg(h.Algorithm))
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s: kid %q alg %s: %w", op, h.KeyID, h.Algorithm, ErrNoMatchingKey)
	}
	for _, k := range candidates {
		if payload, err := jws.Verify(k); err == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
}

// candidates returns the public keys which may have produced a signature
// with the given kid and alg.
func (ks *JSONWebKeySet) candidates(kid string, alg Alg) []interface{} {
	var keys []jose.JSONWebKey
	switch kid {
	case "":
		keys = ks.keys.Keys
	default:
		keys = ks.keys.Key(kid)
	}
	var out []interface{}
	for _, k := range keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if k.Algorithm != "" && Alg(k.Algorithm) != alg {
			continue
		}
		pub := k.Key
		if !k.IsPublic() {
			pub = k.Public().Key
		}
		if !keyMatchesAlg(pub, alg) {
			continue
		}
		out = append(out, pub)
	}
	return out
}

func keyMatchesAlg(key interface{}, alg Alg) bool {
	switch key.(type) {
	case *rsa.PublicKey:
		return strings.HasPrefix(string(alg), "RS") || strings.HasPrefix(string(alg), "PS")
	case *ecdsa.PublicKey:
		return strings.HasPrefix(string(alg), "ES")
	case ed25519.PublicKey:
		return alg == EdDSA
	default:
		return false
	}
}

func parseSigned(token string, algs []Alg) (*jose.JSONWebSignature, error) {
	if token == "" {
		return nil, fmt.Errorf("token is empty: %w", ErrMalformedToken)
	}
	jws, err := jose.ParseSigned(token, joseAlgs(algs))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("expected exactly one signature: %w", ErrMalformedToken)
	}
	return jws, nil
}
