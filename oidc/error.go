// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrInvalidCACert     = errors.New("invalid CA certificate")
	ErrIdGeneratorFailed = errors.New("id generation failed")
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedAlg    = errors.New("unsupported signing algorithm")

	// malformed callback input
	ErrMissingState        = errors.New("no state in url")
	ErrMissingCode         = errors.New("no code in url")
	ErrAuthorizationFailed = errors.New("authorization failed")

	// missing issuer metadata
	ErrMissingIssuerMetadata = errors.New("issuer metadata not found")
	ErrMissingTokenEndpoint  = errors.New("token endpoint not defined")
	ErrMissingJwksUri        = errors.New("jwks uri not defined")

	// terminal transport
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrKeyFetchFailed      = errors.New("signing key fetch failed")
	ErrRetriesExhausted    = errors.New("retries exhausted")

	// id_token and callback validation
	ErrStateMismatch           = errors.New("state mismatch")
	ErrExpiredState            = errors.New("state is expired")
	ErrNonceMismatch           = errors.New("nonce mismatch")
	ErrMissingIdToken          = errors.New("id_token is missing")
	ErrSignatureInvalid        = errors.New("invalid id_token signature")
	ErrIssuerOrAudienceInvalid = errors.New("invalid id_token issuer or audience")
	ErrTokenExpired            = errors.New("id_token is expired")
	ErrHashMismatch            = errors.New("hash-binding claim mismatch")
	ErrSessionMismatch         = errors.New("refreshed id_token does not match session")
)

// ErrorKind classifies a pipeline failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMalformedInput
	KindConfiguration
	KindTransientTransport
	KindTerminalTransport
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedInput:
		return "malformed input"
	case KindConfiguration:
		return "configuration error"
	case KindTransientTransport:
		return "transient transport"
	case KindTerminalTransport:
		return "terminal transport"
	case KindValidation:
		return "validation error"
	default:
		return "unknown"
	}
}

var errorKinds = []struct {
	kind ErrorKind
	errs []error
}{
	{KindMalformedInput, []error{ErrMissingState, ErrMissingCode, ErrAuthorizationFailed}},
	{KindConfiguration, []error{ErrMissingIssuerMetadata, ErrMissingTokenEndpoint, ErrMissingJwksUri}},
	{KindValidation, []error{
		ErrStateMismatch, ErrExpiredState, ErrNonceMismatch, ErrMissingIdToken, ErrSignatureInvalid,
		ErrIssuerOrAudienceInvalid, ErrTokenExpired, ErrHashMismatch, ErrSessionMismatch,
	}},
	{KindTerminalTransport, []error{ErrTokenExchangeFailed, ErrKeyFetchFailed, ErrRetriesExhausted}},
}

// KindOf returns the ErrorKind of err. Transport failures that were never
// wrapped by a pipeline are classified by their FailureKind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range errorKinds {
		for _, e := range k.errs {
			if errors.Is(err, e) {
				return k.kind
			}
		}
	}
	var te *TransportError
	if errors.As(err, &te) {
		if te.Kind == Transient {
			return KindTransientTransport
		}
		return KindTerminalTransport
	}
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return KindTerminalTransport
	}
	return KindUnknown
}

// AuthorizationError is an OAuth2 error response received on the redirect
// instead of an authorization code.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthorizationError struct {
	Code        string
	Description string
	Uri         string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s: %s", ErrAuthorizationFailed, e.Code, e.Description)
	}
	return fmt.Sprintf("%s: %s", ErrAuthorizationFailed, e.Code)
}

// Is allows errors.Is(err, ErrAuthorizationFailed)
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrAuthorizationFailed
}
