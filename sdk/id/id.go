// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// Length is the number of random characters in an id (not counting a prefix)
const Length = 20

const charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// New generates a random base62 id with an optional prefix. The ids are
// suitable for use as an oidc state or nonce.
func New(optionalPrefix string) (string, error) {
	// oversample so rejected bytes rarely force a second read
	buf, err := uuid.GenerateRandomBytes(Length * 2)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	out := make([]byte, 0, Length)
	for len(out) < Length {
		for _, b := range buf {
			// 248 is the largest multiple of 62 below 256, which keeps the
			// distribution uniform
			if b >= 248 {
				continue
			}
			out = append(out, charset[int(b)%len(charset)])
			if len(out) == Length {
				break
			}
		}
		if len(out) < Length {
			if buf, err = uuid.GenerateRandomBytes(Length); err != nil {
				return "", fmt.Errorf("unable to generate id: %w", err)
			}
		}
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, out), nil
	default:
		return string(out), nil
	}
}
