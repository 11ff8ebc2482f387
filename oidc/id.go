// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/capflow/sdk/id"
)

// NewId generates an ID with an optional prefix.  The ID generated is
// suitable for a State Id or Nonce.
func NewId(optionalPrefix string) (string, error) {
	const op = "oidc.NewId"
	id, err := id.New(optionalPrefix)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w: %w", op, ErrIdGeneratorFailed, err)
	}
	return id, nil
}
