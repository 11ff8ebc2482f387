// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	metadataKeyPrefix = "metadata:"
	stateKeyPrefix    = "state:"

	// DefaultStoreCleanupInterval is how often expired entries are purged.
	DefaultStoreCleanupInterval = 1 * time.Minute
)

// MemoryStore keeps issuer metadata and in-flight States in memory.  It is
// safe for concurrent use; reads return copies the caller owns.
type MemoryStore struct {
	cache *cache.Cache
}

// ensure that MemoryStore implements the MetadataReader interface
var _ MetadataReader = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, DefaultStoreCleanupInterval),
	}
}

// WriteIssuerMetadata stores metadata for the authority, replacing any
// previous value.  Metadata doesn't expire.
func (s *MemoryStore) WriteIssuerMetadata(authority string, md *IssuerMetadata) error {
	const op = "MemoryStore.WriteIssuerMetadata"
	if authority == "" {
		return fmt.Errorf("%s: authority is empty: %w", op, ErrInvalidParameter)
	}
	if md == nil {
		return fmt.Errorf("%s: metadata is nil: %w", op, ErrNilParameter)
	}
	s.cache.Set(metadataKeyPrefix+authority, md.Clone(), cache.NoExpiration)
	return nil
}

// ReadIssuerMetadata implements the MetadataReader interface.
func (s *MemoryStore) ReadIssuerMetadata(_ context.Context, authority string) (*IssuerMetadata, error) {
	const op = "MemoryStore.ReadIssuerMetadata"
	v, ok := s.cache.Get(metadataKeyPrefix + authority)
	if !ok {
		return nil, fmt.Errorf("%s: authority %s: %w", op, authority, ErrNotFound)
	}
	return v.(*IssuerMetadata).Clone(), nil
}

// WriteState stores an in-flight State until it expires.  States without an
// expiration are kept until deleted.
func (s *MemoryStore) WriteState(st State) error {
	const op = "MemoryStore.WriteState"
	if st == nil {
		return fmt.Errorf("%s: state is nil: %w", op, ErrNilParameter)
	}
	if st.Id() == "" {
		return fmt.Errorf("%s: state id is empty: %w", op, ErrInvalidParameter)
	}
	ttl := cache.NoExpiration
	if e, ok := st.(interface{ ExpiresAt() time.Time }); ok {
		ttl = time.Until(e.ExpiresAt())
		if ttl <= 0 {
			return fmt.Errorf("%s: state is expired: %w", op, ErrExpiredState)
		}
	}
	s.cache.Set(stateKeyPrefix+st.Id(), st, ttl)
	return nil
}

// Read returns the State with the id.
func (s *MemoryStore) Read(_ context.Context, id string) (State, error) {
	const op = "MemoryStore.Read"
	v, ok := s.cache.Get(stateKeyPrefix + id)
	if !ok {
		return nil, fmt.Errorf("%s: state %s: %w", op, id, ErrNotFound)
	}
	return v.(State), nil
}

// Delete removes the State with the id; deleting a missing State is not an
// error.
func (s *MemoryStore) Delete(id string) {
	s.cache.Delete(stateKeyPrefix + id)
}
