// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/patrickmn/go-cache"
)

const jwksCacheKey = "jwks"

// CachingKeySource keeps the key set returned by another KeySource for a
// fixed ttl.  Failed fetches aren't cached.
type CachingKeySource struct {
	src   KeySource
	ttl   time.Duration
	cache *cache.Cache
}

// ensure that CachingKeySource implements the KeySource interface
var _ KeySource = (*CachingKeySource)(nil)

// NewCachingKeySource wraps src with a cache of the given ttl.
func NewCachingKeySource(src KeySource, ttl time.Duration) (*CachingKeySource, error) {
	const op = "NewCachingKeySource"
	if src == nil {
		return nil, fmt.Errorf("%s: key source is nil: %w", op, ErrNilParameter)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%s: ttl not greater than zero: %w", op, ErrInvalidParameter)
	}
	return &CachingKeySource{
		src:   src,
		ttl:   ttl,
		cache: cache.New(ttl, 2*ttl),
	}, nil
}

// SigningKeys returns the cached key set, fetching it from the wrapped
// KeySource when absent or expired.
func (c *CachingKeySource) SigningKeys(ctx context.Context) (*jose.JSONWebKeySet, error) {
	const op = "CachingKeySource.SigningKeys"
	if v, ok := c.cache.Get(jwksCacheKey); ok {
		return v.(*jose.JSONWebKeySet), nil
	}
	keys, err := c.src.SigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.cache.Set(jwksCacheKey, keys, c.ttl)
	return keys, nil
}

// Invalidate drops the cached key set so the next call fetches.
func (c *CachingKeySource) Invalidate() {
	c.cache.Delete(jwksCacheKey)
}
