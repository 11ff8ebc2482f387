// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/capflow/oidc"
)

// AuthCode creates an oidc authorization code callback handler which
// uses a StateReader to read existing oidc.State(s) via the request's
// oidc "state" parameter as a key for the lookup.
//
// The provider's RunCodeFlowCallback exchanges the code and validates the
// tokens.  When the StateReader is also a StateDeleter, the state is deleted
// once the callback succeeds so it can't be replayed.
//
// The handler gives up when either ctx or the request's context is done, so a
// client that disconnects stops any token request retries.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(ctx context.Context, p *oidc.Provider, rw StateReader, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case p == nil:
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrInvalidParameter)
	case rw == nil:
		return nil, fmt.Errorf("%s: state reader is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.AuthCode"

		rctx, cancel := context.WithCancel(req.Context())
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		reqState := req.FormValue("state")

		if err := req.FormValue("error"); err != "" {
			// get parameters from either the body or query parameters.
			// FormValue prioritizes body values, if found
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, nil, w, req)
			return
		}

		state, err := rw.Read(rctx, reqState)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to read auth code state: %w", op, err), w, req)
			return
		}
		if state == nil {
			// could have expired or it could be invalid... no way to known for sure
			eFn(reqState, nil, fmt.Errorf("%s: auth code state not found: %w", op, oidc.ErrNotFound), w, req)
			return
		}
		if state.IsExpired() {
			eFn(reqState, nil, fmt.Errorf("%s: authentication state is expired: %w", op, oidc.ErrExpiredState), w, req)
			return
		}

		result, err := p.RunCodeFlowCallback(rctx, state, redirectURL(req))
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to complete code flow: %w", op, err), w, req)
			return
		}
		if d, ok := rw.(StateDeleter); ok {
			d.Delete(reqState)
		}
		sFn(reqState, result, w, req)
	}, nil
}

// redirectURL rebuilds the redirect from the request's callback parameters,
// which may have been posted rather than sent in the query.
func redirectURL(req *http.Request) string {
	u := *req.URL
	q := url.Values{}
	for _, k := range []string{"code", "state", "session_state"} {
		if v := req.FormValue(k); v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
