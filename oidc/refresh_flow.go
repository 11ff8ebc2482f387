// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"time"
)

// RunRefreshFlow renews a session's tokens with its refresh token.  The
// refreshed id_token is validated like a code flow's, without the state and
// nonce checks, and must belong to the same session as existingIdToken.
// When the provider doesn't return a new refresh token the presented one is
// kept.
func (p *Provider) RunRefreshFlow(ctx context.Context, rt RefreshToken, existingIdToken IdToken) (result *ValidationResult, err error) {
	const op = "Provider.RunRefreshFlow"
	defer func(start time.Time) { p.metrics.flowResult(flowRefresh, start, err) }(time.Now())
	p.logger.Debug("running refresh flow", "authority", p.config.Authority)

	if rt == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	cc := CallbackContext{
		RefreshToken:    rt,
		IsRenewProcess:  true,
		ExistingIdToken: existingIdToken,
	}

	r, err := p.requestTokens(ctx, NewRefreshGrant(rt), "refresh")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if r.RefreshToken == "" {
		r.RefreshToken = rt
	}
	if r.SessionState == "" {
		r.SessionState, _ = sessionStateOf(existingIdToken)
	}
	cc.SessionState = r.SessionState
	cc = cc.WithAuthResult(r)

	cc, err = p.validator.Validate(ctx, nil, cc)
	if err != nil {
		return cc.ValidationResult, fmt.Errorf("%s: %w", op, err)
	}
	return cc.ValidationResult, nil
}

// sessionStateOf returns the session id ("sid") bound to an id_token.
func sessionStateOf(t IdToken) (string, bool) {
	if t == "" {
		return "", false
	}
	var c IdTokenClaims
	if err := t.Claims(&c); err != nil || c.SessionId == "" {
		return "", false
	}
	return c.SessionId, true
}
