// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// ParseCallbackURL parses the code, state and session_state query parameters
// of a redirect.  A redirect carrying an "error" parameter returns an
// *AuthorizationError.
func ParseCallbackURL(redirectURL string) (CallbackContext, error) {
	const op = "ParseCallbackURL"
	u, err := url.Parse(redirectURL)
	if err != nil {
		return CallbackContext{}, fmt.Errorf("%s: unable to parse redirect url: %w: %w", op, ErrInvalidParameter, err)
	}
	q := u.Query()
	if code := q.Get("error"); code != "" {
		return CallbackContext{}, fmt.Errorf("%s: %w", op, &AuthorizationError{
			Code:        code,
			Description: q.Get("error_description"),
			Uri:         q.Get("error_uri"),
		})
	}
	cc := CallbackContext{
		Code:         q.Get("code"),
		State:        q.Get("state"),
		SessionState: q.Get("session_state"),
	}
	switch {
	case cc.State == "":
		return CallbackContext{}, fmt.Errorf("%s: %w", op, ErrMissingState)
	case cc.Code == "":
		return CallbackContext{}, fmt.Errorf("%s: %w", op, ErrMissingCode)
	}
	return cc, nil
}

// RunCodeFlowCallback completes an authorization code flow from the
// provider's redirect.  The state in the redirect must be the expected
// State's id; it's checked before the code is exchanged, so a mismatched
// redirect never reaches the token endpoint.
//
// On success the ValidationResult holds the verified claims and tokens.  A
// validation failure returns both a ValidationResult whose Failure is the
// returned error and the error.
//
// Supported options: WithSilentRenew
func (p *Provider) RunCodeFlowCallback(ctx context.Context, expected State, redirectURL string, opt ...Option) (result *ValidationResult, err error) {
	const op = "Provider.RunCodeFlowCallback"
	defer func(start time.Time) { p.metrics.flowResult(flowCode, start, err) }(time.Now())
	p.logger.Debug("running code flow callback", "authority", p.config.Authority)

	cc, err := ParseCallbackURL(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getCodeFlowOpts(opt...)
	cc.IsRenewProcess = opts.withSilentRenew

	if expected == nil || cc.State != expected.Id() {
		p.logger.Warn("incorrect state", "state", cc.State)
		return nil, fmt.Errorf("%s: %w", op, ErrStateMismatch)
	}

	r, err := p.requestTokens(ctx, NewCodeGrant(cc.Code), "code")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.State = cc.State
	r.SessionState = cc.SessionState
	cc = cc.WithAuthResult(r)

	cc, err = p.validator.Validate(ctx, expected, cc)
	if err != nil {
		return cc.ValidationResult, fmt.Errorf("%s: %w", op, err)
	}
	return cc.ValidationResult, nil
}

// codeFlowOptions is the set of available options for RunCodeFlowCallback
type codeFlowOptions struct {
	withSilentRenew bool
}

func getCodeFlowOpts(opt ...Option) codeFlowOptions {
	var opts codeFlowOptions
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSilentRenew marks the callback as a silent renewal rather than an
// interactive redirect.
func WithSilentRenew() Option {
	return func(o interface{}) {
		if o, ok := o.(*codeFlowOptions); ok {
			o.withSilentRenew = true
		}
	}
}
