// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"

	"github.com/hashicorp/capflow/oidc"
)

// StateReader defines an interface for finding and reading an oidc.State
// Implementations must be concurrently safe, since the reader will likely be
// used within a concurrent http.Handler.  *oidc.MemoryStore is a StateReader.
type StateReader interface {
	// Read an existing State entry.  The returned state's Id()
	// must match the stateID used to look it up. Implementations must be
	// concurrently safe, which likely means returning a deep copy.
	Read(ctx context.Context, stateID string) (oidc.State, error)
}

// StateDeleter is optionally implemented by a StateReader to forget a State
// once its callback has completed.
type StateDeleter interface {
	Delete(stateID string)
}

// ensure that oidc.MemoryStore implements the StateReader and StateDeleter
// interfaces
var (
	_ StateReader  = (*oidc.MemoryStore)(nil)
	_ StateDeleter = (*oidc.MemoryStore)(nil)
)

// SingleStateReader implements the StateReader interface for a single state.
// It is concurrently safe.
type SingleStateReader struct {
	State oidc.State
}

// Read() will return it's single-state if the stateID matches it's Id(),
// otherwise it returns an error of oidc.ErrNotFound. It satisfies the
// StateReader interface.  Read() is concurrently safe.
func (s *SingleStateReader) Read(_ context.Context, stateID string) (oidc.State, error) {
	const op = "SingleStateReader.Read"
	if s.State == nil || s.State.Id() != stateID {
		return nil, fmt.Errorf("%s: state %s: %w", op, stateID, oidc.ErrNotFound)
	}
	return s.State, nil
}
