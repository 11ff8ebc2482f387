// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import "github.com/hashicorp/capflow/jwt"

// Alg represents asymmetric signing algorithms
type Alg = jwt.Alg

const (
	// JOSE asymmetric signing algorithm values as defined by RFC 7518.
	//
	// See: https://tools.ietf.org/html/rfc7518#section-3.1
	RS256 = jwt.RS256 // RSASSA-PKCS-v1.5 using SHA-256
	RS384 = jwt.RS384 // RSASSA-PKCS-v1.5 using SHA-384
	RS512 = jwt.RS512 // RSASSA-PKCS-v1.5 using SHA-512
	ES256 = jwt.ES256 // ECDSA using P-256 and SHA-256
	ES384 = jwt.ES384 // ECDSA using P-384 and SHA-384
	ES512 = jwt.ES512 // ECDSA using P-521 and SHA-512
	PS256 = jwt.PS256 // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 = jwt.PS384 // RSASSA-PSS using SHA384 and MGF1-SHA384
	PS512 = jwt.PS512 // RSASSA-PSS using SHA512 and MGF1-SHA512
	EdDSA = jwt.EdDSA // Ed25519 using SHA-512
)
