// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/hashicorp/capflow/jwt"
	"github.com/hashicorp/capflow/oidc/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// TokenValidator validates the token endpoint response held by a
// CallbackContext.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
type TokenValidator struct {
	config *Config
	keys   KeySource
	clock  clockwork.Clock
	logger hclog.Logger
}

// NewTokenValidator creates a TokenValidator which verifies signatures with
// keys from the KeySource.
//
// Supported options: WithLogger, WithClock
func NewTokenValidator(c *Config, keys KeySource, opt ...Option) (*TokenValidator, error) {
	const op = "NewTokenValidator"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if keys == nil {
		return nil, fmt.Errorf("%s: key source is nil: %w", op, ErrNilParameter)
	}
	opts := getValidatorOpts(opt...)
	return &TokenValidator{
		config: c,
		keys:   keys,
		clock:  opts.withClock,
		logger: opts.withLogger,
	}, nil
}

// Validate runs the checks below in order, stopping at the first failure:
//
//  1. state matches the expected State, which isn't expired (code flow only)
//  2. nonce matches the expected State's nonce (code flow only)
//  3. signature verifies with a key fetched from the KeySource
//  4. issuer is the authority and the audience includes the client id
//  5. token isn't expired, allowing Config.ClockSkew
//  6. at_hash and c_hash, when present, match the access_token and code
//  7. the refreshed id_token is for the same session as ExistingIdToken
//     (refresh flow only)
//
// The returned CallbackContext always carries the ValidationResult, whose
// session state is the one received.  On failure the returned error and
// ValidationResult.Failure are the same.  A failure to fetch keys is returned
// as is and has no ValidationResult.
func (v *TokenValidator) Validate(ctx context.Context, expected State, cc CallbackContext) (CallbackContext, error) {
	const op = "TokenValidator.Validate"
	if cc.ValidationResult != nil {
		return cc, fmt.Errorf("%s: context already validated: %w", op, ErrInvalidParameter)
	}
	res, keysErr := v.validate(ctx, expected, &cc)
	if keysErr != nil {
		return cc, fmt.Errorf("%s: %w", op, keysErr)
	}
	out, err := cc.WithValidationResult(res)
	if err != nil {
		return cc, fmt.Errorf("%s: %w", op, err)
	}
	if res.Failure != nil {
		v.logger.Debug("validation failed", "kind", KindOf(res.Failure), "error", res.Failure)
		return out, res.Failure
	}
	return out, nil
}

// validate fills cc.JwtKeys and returns the result; a non-nil error means
// signing keys couldn't be fetched.
func (v *TokenValidator) validate(ctx context.Context, expected State, cc *CallbackContext) (*ValidationResult, error) {
	const op = "TokenValidator.Validate"
	res := &ValidationResult{
		State:          cc.State,
		SessionState:   cc.SessionState,
		IsRenewProcess: cc.IsRenewProcess,
	}
	fail := func(err error) (*ValidationResult, error) {
		res.Failure = err
		return res, nil
	}
	refresh := cc.isRefresh()

	if !refresh {
		switch {
		case expected == nil:
			return fail(fmt.Errorf("%s: no expected state: %w", op, ErrStateMismatch))
		case cc.State != expected.Id():
			v.logger.Warn("incorrect state", "state", cc.State)
			return fail(fmt.Errorf("%s: state %q doesn't match the expected state: %w", op, cc.State, ErrStateMismatch))
		case expected.IsExpired():
			return fail(fmt.Errorf("%s: state %q: %w", op, cc.State, ErrExpiredState))
		}
	}

	if cc.AuthResult == nil || cc.AuthResult.IdToken == "" {
		return fail(fmt.Errorf("%s: %w", op, ErrMissingIdToken))
	}
	idToken := cc.AuthResult.IdToken

	if !refresh {
		var unverified IdTokenClaims
		if err := idToken.Claims(&unverified); err != nil {
			return fail(fmt.Errorf("%s: %w: %w", op, ErrSignatureInvalid, err))
		}
		if unverified.Nonce != expected.Nonce() {
			return fail(fmt.Errorf("%s: %w", op, ErrNonceMismatch))
		}
	}

	keys, err := v.keys.SigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	*cc = cc.WithJwtKeys(keys)
	ks, err := jwt.NewJSONWebKeySet(keys, v.config.SupportedSigningAlgs...)
	if err != nil {
		return fail(fmt.Errorf("%s: %w: %w", op, ErrSignatureInvalid, err))
	}
	payload, err := ks.VerifySignature(ctx, string(idToken))
	if err != nil {
		return fail(fmt.Errorf("%s: %w: %w", op, ErrSignatureInvalid, err))
	}
	hdr, err := jwt.ParseHeader(string(idToken))
	if err != nil {
		return fail(fmt.Errorf("%s: %w: %w", op, ErrSignatureInvalid, err))
	}
	claims, raw, err := decodePayloadClaims(payload)
	if err != nil {
		return fail(fmt.Errorf("%s: unable to decode claims: %w: %w", op, ErrSignatureInvalid, err))
	}

	if err := v.checkIssuerAndAudience(claims); err != nil {
		return fail(fmt.Errorf("%s: %w", op, err))
	}

	now := v.clock.Now()
	if claims.Expiry == nil || !now.Before(claims.Expiry.Time().Add(v.config.ClockSkew)) {
		return fail(fmt.Errorf("%s: %w", op, ErrTokenExpired))
	}

	if err := checkHashClaim(hdr.Alg, claims.AccessTokenHash, string(cc.AuthResult.AccessToken)); err != nil {
		return fail(fmt.Errorf("%s: at_hash: %w", op, err))
	}
	if err := checkHashClaim(hdr.Alg, claims.CodeHash, cc.Code); err != nil {
		return fail(fmt.Errorf("%s: c_hash: %w", op, err))
	}

	if refresh && cc.ExistingIdToken != "" {
		if err := checkSameSession(cc.ExistingIdToken, claims); err != nil {
			return fail(fmt.Errorf("%s: %w", op, err))
		}
	}

	res.Claims = claims
	res.RawClaims = raw
	res.Token = newToken(cc.AuthResult, now)
	return res, nil
}

func (v *TokenValidator) checkIssuerAndAudience(claims *IdTokenClaims) error {
	if claims.Issuer != v.config.Authority {
		return fmt.Errorf("issuer %q isn't %q: %w", claims.Issuer, v.config.Authority, ErrIssuerOrAudienceInvalid)
	}
	if !claims.Audience.Contains(v.config.ClientId) {
		return fmt.Errorf("audience doesn't contain the client id: %w", ErrIssuerOrAudienceInvalid)
	}
	if claims.AuthorizedParty != "" && claims.AuthorizedParty != v.config.ClientId {
		return fmt.Errorf("authorized party %q isn't the client id: %w", claims.AuthorizedParty, ErrIssuerOrAudienceInvalid)
	}
	if len(v.config.Audiences) > 0 {
		for _, a := range v.config.Audiences {
			if strutils.StrListContains(claims.Audience, a) {
				return nil
			}
		}
		return fmt.Errorf("audience doesn't contain a configured audience: %w", ErrIssuerOrAudienceInvalid)
	}
	return nil
}

// checkHashClaim compares a hash-binding claim with the value it binds.  An
// absent claim or value isn't checked.
func checkHashClaim(alg jwt.Alg, claim, value string) error {
	if claim == "" || value == "" {
		return nil
	}
	want, err := jwt.HashClaim(alg, value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHashMismatch, err)
	}
	if want != claim {
		return ErrHashMismatch
	}
	return nil
}

// checkSameSession applies the refresh response id_token rules: iss, sub and
// aud are unchanged, and auth_time, when present, is the original one.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#RefreshTokenResponse
func checkSameSession(existing IdToken, refreshed *IdTokenClaims) error {
	var prev IdTokenClaims
	if err := existing.Claims(&prev); err != nil {
		return fmt.Errorf("existing id_token: %w: %w", ErrSessionMismatch, err)
	}
	switch {
	case prev.Issuer != refreshed.Issuer:
		return fmt.Errorf("issuer changed: %w", ErrSessionMismatch)
	case prev.Subject != refreshed.Subject:
		return fmt.Errorf("subject changed: %w", ErrSessionMismatch)
	case !sameAudience(prev.Audience, refreshed.Audience):
		return fmt.Errorf("audience changed: %w", ErrSessionMismatch)
	case refreshed.AuthTime != nil && !sameNumericDate(prev.AuthTime, refreshed.AuthTime):
		return fmt.Errorf("auth_time changed: %w", ErrSessionMismatch)
	}
	return nil
}

// validatorOptions is the set of available options for TokenValidator
type validatorOptions struct {
	withLogger hclog.Logger
	withClock  clockwork.Clock
}

// validatorDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func validatorDefaults() validatorOptions {
	return validatorOptions{
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
	}
}

// getValidatorOpts gets the defaults and applies the opt overrides passed in.
func getValidatorOpts(opt ...Option) validatorOptions {
	opts := validatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
