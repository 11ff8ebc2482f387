// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/capflow/oidc"
)

// LoginResp is used by AuthCodeWithChannel.  The callback writes its result
// to the returned <-chan LoginResp.
type LoginResp struct {
	Result *oidc.ValidationResult // Result is populated when the callback succeeds.
	Error  error                  // Error is populated when the callback fails.
}

// AuthCodeWithChannel creates an oidc authorization code callback handler
// which communicates the outcome by writing a LoginResp to a channel. It's a
// one-time use callback, since it takes a specific oidc.State which
// represents only one oidc authentication attempt.  Because of that, it's
// most appropriate for a localhost http listener within the same process
// that kicked off the authorization code flow.
//
// Only the first response is written to the channel, which is then closed.
// Callbacks received after that are answered through the ErrorResponseFunc
// with oidc.ErrInvalidParameter and never reach the provider.
// An error response from the provider is reported as an
// *oidc.AuthorizationError.
//
// The SuccessResponseFunc and ErrorResponseFunc still create the http
// responses.
func AuthCodeWithChannel(ctx context.Context, p *oidc.Provider, state oidc.State, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, <-chan LoginResp, error) {
	const op = "callback.AuthCodeWithChannel"
	switch {
	case state == nil:
		return nil, nil, fmt.Errorf("%s: state is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}

	doneCh := make(chan LoginResp, 1)
	var (
		once      sync.Once
		completed atomic.Bool
	)
	send := func(r LoginResp) {
		once.Do(func() {
			completed.Store(true)
			doneCh <- r
			close(doneCh)
		})
	}

	successFn := func(s string, r *oidc.ValidationResult, w http.ResponseWriter, req *http.Request) {
		sFn(s, r, w, req)
		send(LoginResp{Result: r})
	}
	errorFn := func(s string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		eFn(s, r, e, w, req)
		if e == nil && r != nil {
			e = &oidc.AuthorizationError{Code: r.Error, Description: r.Description, Uri: r.Uri}
		}
		send(LoginResp{Error: e})
	}

	h, err := AuthCode(ctx, p, &SingleStateReader{State: state}, successFn, errorFn)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		if completed.Load() {
			eFn(req.FormValue("state"), nil, fmt.Errorf("%s: callback already completed: %w", op, oidc.ErrInvalidParameter), w, req)
			return
		}
		h(w, req)
	}, doneCh, nil
}
