// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// AuthResult is a token endpoint response.  State and SessionState are not
// part of the response; the flows stamp them for correlation.
type AuthResult struct {
	AccessToken  AccessToken  `json:"access_token,omitempty"`
	IdToken      IdToken      `json:"id_token,omitempty"`
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`
	ExpiresIn    json.Number  `json:"expires_in,omitempty"`
	TokenType    string       `json:"token_type,omitempty"`
	Scope        string       `json:"scope,omitempty"`
	State        string       `json:"state,omitempty"`
	SessionState string       `json:"session_state,omitempty"`
}

// ValidationResult is the terminal outcome of validating a CallbackContext.
// Failure is nil on success, and KindOf(Failure) classifies it otherwise.
type ValidationResult struct {
	Failure error

	// Claims and RawClaims are the verified id_token claims; nil on failure.
	Claims    *IdTokenClaims
	RawClaims map[string]interface{}

	// Token is the validated token set; nil on failure.
	Token *Token

	State          string
	SessionState   string
	IsRenewProcess bool
}

// Succeeded reports whether validation passed.
func (r *ValidationResult) Succeeded() bool {
	return r != nil && r.Failure == nil
}

// Kind returns the ErrorKind of the Failure, or KindUnknown on success.
func (r *ValidationResult) Kind() ErrorKind {
	if r == nil {
		return KindUnknown
	}
	return KindOf(r.Failure)
}

// CallbackContext is the unit of work of one code or refresh flow.  It's
// passed by value between stages: each stage returns a new CallbackContext,
// and an AuthResult is never changed once it's been set.
type CallbackContext struct {
	// Code is set on the code flow; RefreshToken on the refresh flow.
	Code         string
	RefreshToken RefreshToken

	State        string
	SessionState string

	// AuthResult is nil until the token request succeeds.
	AuthResult *AuthResult

	IsRenewProcess bool

	// JwtKeys is nil until the signing keys are fetched.
	JwtKeys *jose.JSONWebKeySet

	// ValidationResult is set exactly once, by the validator.
	ValidationResult *ValidationResult

	// ExistingIdToken is the previously validated id_token of the session
	// being refreshed.
	ExistingIdToken IdToken
}

// isRefresh reports whether the context belongs to a refresh flow.
func (cc CallbackContext) isRefresh() bool {
	return cc.Code == "" && cc.RefreshToken != ""
}

// WithAuthResult returns a copy of cc holding a copy of r.
func (cc CallbackContext) WithAuthResult(r AuthResult) CallbackContext {
	cc.AuthResult = &r
	return cc
}

// WithJwtKeys returns a copy of cc holding keys.
func (cc CallbackContext) WithJwtKeys(keys *jose.JSONWebKeySet) CallbackContext {
	cc.JwtKeys = keys
	return cc
}

// WithValidationResult returns a copy of cc holding r.  It fails if cc already
// has a ValidationResult.
func (cc CallbackContext) WithValidationResult(r *ValidationResult) (CallbackContext, error) {
	const op = "CallbackContext.WithValidationResult"
	if r == nil {
		return cc, fmt.Errorf("%s: validation result is nil: %w", op, ErrNilParameter)
	}
	if cc.ValidationResult != nil {
		return cc, fmt.Errorf("%s: validation result already set: %w", op, ErrInvalidParameter)
	}
	cc.ValidationResult = r
	return cc, nil
}
