// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/capflow/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthCodeWithChannel(t *testing.T) {
	ctx := context.Background()
	redirect := "https://example.com"
	tp := oidc.StartTestProvider(t, 0)
	tp.SetExpectedAuthCode("valid-code")
	p, _ := testNewProvider(t, "test-client-id", "test-client-secret", redirect, tp)

	t.Run("invalid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		st, err := oidc.NewState(time.Minute)
		require.NoError(err)

		_, _, err = AuthCodeWithChannel(ctx, p, nil, testSuccessFn, testFailFn)
		assert.ErrorIs(err, oidc.ErrInvalidParameter)
		_, _, err = AuthCodeWithChannel(ctx, p, st, nil, testFailFn)
		assert.ErrorIs(err, oidc.ErrInvalidParameter)
		_, _, err = AuthCodeWithChannel(ctx, p, st, testSuccessFn, nil)
		assert.ErrorIs(err, oidc.ErrInvalidParameter)
		_, _, err = AuthCodeWithChannel(ctx, nil, st, testSuccessFn, testFailFn)
		assert.ErrorIs(err, oidc.ErrInvalidParameter)
	})

	tests := []struct {
		name           string
		nonceOverride  string
		wantStatusCode int
		wantIsErr      error
	}{
		{
			name:           "success",
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "provider-error",
			nonceOverride:  "bad-nonce",
			wantStatusCode: http.StatusUnauthorized,
			wantIsErr:      oidc.ErrAuthorizationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			st, err := oidc.NewState(time.Minute)
			require.NoError(err)
			switch {
			case tt.nonceOverride != "":
				tp.SetExpectedAuthNonce(tt.nonceOverride)
			default:
				tp.SetExpectedAuthNonce(st.Nonce())
			}

			handler, doneCh, err := AuthCodeWithChannel(ctx, p, st, testSuccessFn, testFailFn)
			require.NoError(err)

			authURL, err := p.AuthURL(ctx, st)
			require.NoError(err)
			location := testAuthRedirect(t, p, authURL)

			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, location, nil))
			assert.Equal(tt.wantStatusCode, rec.Code)

			resp, ok := <-doneCh
			require.True(ok)
			if tt.wantIsErr != nil {
				require.Error(resp.Error)
				assert.ErrorIs(resp.Error, tt.wantIsErr)
				assert.Nil(resp.Result)
			} else {
				require.NoError(resp.Error)
				require.NotNil(resp.Result)
				assert.True(resp.Result.Succeeded())
				assert.Equal(st.Id(), resp.Result.State)
			}

			// only the first response is reported, and a repeated callback
			// doesn't exchange the code again
			requests := tp.TokenRequests()
			rec = httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, location, nil))
			assert.Equal(http.StatusInternalServerError, rec.Code)
			assert.Contains(rec.Body.String(), "callback already completed")
			assert.Equal(requests, tp.TokenRequests())
			_, ok = <-doneCh
			assert.False(ok)
		})
	}
}
