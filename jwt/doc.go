// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package jwt verifies JWS compact serialized tokens against a JSON Web Key
// Set and computes OIDC hash-binding claims.
package jwt
