// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrUnsupportedAlg   = errors.New("unsupported signing algorithm")
	ErrMalformedToken   = errors.New("malformed jwt")
	ErrNoMatchingKey    = errors.New("no matching key")
	ErrInvalidSignature = errors.New("invalid signature")
)
