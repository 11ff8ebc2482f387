// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

const operationKeyFetch = "key_fetch"

// KeySource provides an issuer's signing keys.
type KeySource interface {
	SigningKeys(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// KeyProvider fetches an issuer's JSON Web Key Set from the jwks_uri in its
// stored metadata.  Every call to SigningKeys fetches; see CachingKeySource
// for a caching layer.
type KeyProvider struct {
	authority string
	metadata  MetadataReader
	transport Transport
	retrier   *retrier
	logger    hclog.Logger
	metrics   *Metrics
}

// ensure that KeyProvider implements the KeySource interface
var _ KeySource = (*KeyProvider)(nil)

// NewKeyProvider creates a KeyProvider which retries a JWKS request that
// couldn't reach the provider up to c.KeyFetchMaxRetries times.
//
// Supported options: WithLogger, WithClock, WithMetrics
func NewKeyProvider(c *Config, metadata MetadataReader, t Transport, opt ...Option) (*KeyProvider, error) {
	const op = "NewKeyProvider"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case metadata == nil:
		return nil, fmt.Errorf("%s: metadata reader is nil: %w", op, ErrNilParameter)
	case t == nil:
		return nil, fmt.Errorf("%s: transport is nil: %w", op, ErrNilParameter)
	}
	opts := getKeyProviderOpts(opt...)
	policy := RetryPolicy{Delay: c.KeyFetchRetryDelay, MaxRetries: c.KeyFetchMaxRetries}
	return &KeyProvider{
		authority: c.Authority,
		metadata:  metadata,
		transport: t,
		retrier:   newRetrier(operationKeyFetch, policy, opts.withClock, opts.withLogger, opts.withMetrics),
		logger:    opts.withLogger,
		metrics:   opts.withMetrics,
	}, nil
}

// SigningKeys fetches the issuer's signing keys.
func (kp *KeyProvider) SigningKeys(ctx context.Context) (*jose.JSONWebKeySet, error) {
	const op = "KeyProvider.SigningKeys"
	md, err := readIssuerMetadata(ctx, kp.metadata, kp.authority)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if md.JwksUri == "" {
		return nil, fmt.Errorf("%s: authority %s: %w", op, kp.authority, ErrMissingJwksUri)
	}
	kp.logger.Debug("fetching signing keys", "jwks_uri", md.JwksUri)
	raw, err := kp.retrier.do(ctx, func(ctx context.Context) ([]byte, error) {
		return kp.transport.Get(ctx, md.JwksUri)
	})
	if err != nil {
		kp.logger.Error("signing key fetch failed", "authority", kp.authority, "error", describeFailure(err))
		kp.metrics.keyFetch(err)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrKeyFetchFailed, err)
	}
	var keys jose.JSONWebKeySet
	if err := json.Unmarshal(raw, &keys); err != nil {
		kp.logger.Error("signing key fetch failed", "authority", kp.authority, "error", err.Error())
		kp.metrics.keyFetch(err)
		return nil, fmt.Errorf("%s: unable to decode key set: %w: %w", op, ErrKeyFetchFailed, err)
	}
	kp.metrics.keyFetch(nil)
	return &keys, nil
}

// describeFailure returns "<status> - <statusText> <body>" for an HTTP error
// response, and the raw error text otherwise.
func describeFailure(err error) string {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.Error()
	}
	return err.Error()
}

// keyProviderOptions is the set of available options for KeyProvider
type keyProviderOptions struct {
	withLogger  hclog.Logger
	withClock   clockwork.Clock
	withMetrics *Metrics
}

// keyProviderDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func keyProviderDefaults() keyProviderOptions {
	return keyProviderOptions{
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
	}
}

// getKeyProviderOpts gets the defaults and applies the opt overrides passed
// in.
func getKeyProviderOpts(opt ...Option) keyProviderOptions {
	opts := keyProviderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
