// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/capflow/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthCode(t *testing.T) {
	ctx := context.Background()
	clientID := "test-client-id"
	clientSecret := "test-client-secret"
	tp := oidc.StartTestProvider(t, 0)
	p, store := testNewProvider(t, clientID, clientSecret, "https://example.com", tp)

	tests := []struct {
		name      string
		p         *oidc.Provider
		rw        StateReader
		sFn       SuccessResponseFunc
		eFn       ErrorResponseFunc
		wantErr   bool
		wantIsErr error
	}{
		{"valid", p, store, testSuccessFn, testFailFn, false, nil},
		{"nil-p", nil, store, testSuccessFn, testFailFn, true, oidc.ErrInvalidParameter},
		{"nil-rw", p, nil, testSuccessFn, testFailFn, true, oidc.ErrInvalidParameter},
		{"nil-sFn", p, store, nil, testFailFn, true, oidc.ErrInvalidParameter},
		{"nil-eFn", p, store, testSuccessFn, nil, true, oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := AuthCode(ctx, tt.p, tt.rw, tt.sFn, tt.eFn)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.NotNil(got)
		})
	}
}

type testNilStateReader struct{}

func (testNilStateReader) Read(context.Context, string) (oidc.State, error) { return nil, nil }

func Test_AuthCodeResponses(t *testing.T) {
	ctx := context.Background()
	clientID := "test-client-id"
	clientSecret := "test-client-secret"
	redirect := "https://example.com"
	tp := oidc.StartTestProvider(t, 0)
	tp.SetExpectedAuthCode("valid-code")
	tp.SetAllowedRedirectURIs([]string{redirect})

	p, store := testNewProvider(t, clientID, clientSecret, redirect, tp)

	tests := []struct {
		name                string
		exp                 time.Duration
		nonceOverride       string
		readerOverride      StateReader
		tokenStatus         int
		post                bool
		wantStatusCode      int
		wantError           bool
		wantRespError       string
		wantRespDescription string
	}{
		{
			name:           "basic",
			exp:            1 * time.Minute,
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "form-post",
			exp:            1 * time.Minute,
			post:           true,
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "bad-nonce",
			exp:            1 * time.Minute,
			nonceOverride:  "bad-nonce",
			wantStatusCode: http.StatusUnauthorized,
			wantError:      true,
			wantRespError:  "access_denied",
		},
		{
			name:                "expired",
			exp:                 1 * time.Nanosecond,
			wantStatusCode:      http.StatusInternalServerError,
			wantError:           true,
			wantRespError:       "internal-callback-error",
			wantRespDescription: "state is expired",
		},
		{
			name:                "state-not-found",
			exp:                 1 * time.Minute,
			readerOverride:      oidc.NewMemoryStore(),
			wantStatusCode:      http.StatusInternalServerError,
			wantError:           true,
			wantRespError:       "internal-callback-error",
			wantRespDescription: "not found",
		},
		{
			name:                "state-returns-nil",
			exp:                 1 * time.Minute,
			readerOverride:      testNilStateReader{},
			wantStatusCode:      http.StatusInternalServerError,
			wantError:           true,
			wantRespError:       "internal-callback-error",
			wantRespDescription: "not found",
		},
		{
			name:                "bad-exchange",
			exp:                 1 * time.Minute,
			tokenStatus:         http.StatusUnauthorized,
			wantStatusCode:      http.StatusInternalServerError,
			wantError:           true,
			wantRespError:       "internal-callback-error",
			wantRespDescription: "401 - Unauthorized",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			st, err := oidc.NewState(tt.exp)
			require.NoError(err)

			switch {
			case tt.nonceOverride != "":
				tp.SetExpectedAuthNonce(tt.nonceOverride)
			default:
				tp.SetExpectedAuthNonce(st.Nonce())
			}
			if tt.tokenStatus != 0 {
				tp.SetTokenStatus(tt.tokenStatus)
				defer tp.SetTokenStatus(0)
			}

			var reader StateReader
			switch {
			case tt.readerOverride != nil:
				reader = tt.readerOverride
			case tt.exp < time.Second:
				reader = &SingleStateReader{State: st}
			default:
				require.NoError(store.WriteState(st))
				reader = store
			}
			handler, err := AuthCode(ctx, p, reader, testSuccessFn, testFailFn)
			require.NoError(err)

			authURL, err := p.AuthURL(ctx, st)
			require.NoError(err)
			location := testAuthRedirect(t, p, authURL)

			var req *http.Request
			switch {
			case tt.post:
				u, q := splitRedirect(t, location)
				req = httptest.NewRequest(http.MethodPost, u, strings.NewReader(q))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			default:
				req = httptest.NewRequest(http.MethodGet, location, nil)
			}
			rec := httptest.NewRecorder()
			handler(rec, req)
			resp := rec.Result()
			defer resp.Body.Close()
			contents, err := io.ReadAll(resp.Body)
			require.NoError(err)

			assert.Equal(tt.wantStatusCode, resp.StatusCode)

			if tt.wantError {
				var errResp AuthenErrorResponse
				require.NoError(json.Unmarshal(contents, &errResp))
				assert.Equal(tt.wantRespError, errResp.Error)
				if tt.wantRespDescription != "" {
					assert.Contains(errResp.Description, tt.wantRespDescription)
				}
				return
			}
			assert.Equal("login successful", string(contents))

			// a completed state can't be replayed
			_, err = store.Read(ctx, st.Id())
			assert.ErrorIs(err, oidc.ErrNotFound)
		})
	}
}

// testUnreachableTransport fails every request as a transient error.
type testUnreachableTransport struct {
	posts atomic.Int32
}

func (tr *testUnreachableTransport) Post(_ context.Context, url string, _ string, _ http.Header) ([]byte, error) {
	tr.posts.Add(1)
	return nil, &oidc.TransportError{Kind: oidc.Transient, Method: http.MethodPost, URL: url, Err: errors.New("connection refused")}
}

func (tr *testUnreachableTransport) Get(_ context.Context, url string) ([]byte, error) {
	return nil, &oidc.TransportError{Kind: oidc.Transient, Method: http.MethodGet, URL: url, Err: errors.New("connection refused")}
}

func Test_AuthCodeRequestCancelled(t *testing.T) {
	ctx := context.Background()
	tp := oidc.StartTestProvider(t, 0)
	p, store := testNewProvider(t, "test-client-id", "test-client-secret", "https://example.com", tp)

	tests := []struct {
		name        string
		cancelReq   bool
		cancelBuild bool
		wantIsErr   error
	}{
		{name: "request-cancelled", cancelReq: true, wantIsErr: context.Canceled},
		{name: "handler-ctx-cancelled", cancelBuild: true, wantIsErr: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tr := &testUnreachableTransport{}
			unreachable, err := oidc.NewProvider(p.Config(), store, oidc.WithTransport(tr))
			require.NoError(err)

			st, err := oidc.NewState(time.Minute)
			require.NoError(err)
			require.NoError(store.WriteState(st))

			buildCtx, buildCancel := context.WithCancel(ctx)
			defer buildCancel()
			var gotErr error
			eFn := func(state string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
				gotErr = e
				testFailFn(state, r, e, w, req)
			}
			handler, err := AuthCode(buildCtx, unreachable, store, testSuccessFn, eFn)
			require.NoError(err)

			reqCtx, reqCancel := context.WithCancel(ctx)
			defer reqCancel()
			req := httptest.NewRequest(http.MethodGet, "https://example.com?code=valid-code&state="+st.Id(), nil).WithContext(reqCtx)
			rec := httptest.NewRecorder()
			done := make(chan struct{})
			go func() {
				defer close(done)
				handler(rec, req)
			}()

			require.Eventually(func() bool { return tr.posts.Load() > 1 }, 5*time.Second, 10*time.Millisecond)
			switch {
			case tt.cancelReq:
				reqCancel()
			case tt.cancelBuild:
				buildCancel()
			}
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				require.FailNow("handler still running after cancellation")
			}

			assert.Equal(http.StatusInternalServerError, rec.Code)
			assert.ErrorIs(gotErr, tt.wantIsErr)
			posts := tr.posts.Load()
			time.Sleep(50 * time.Millisecond)
			assert.Equal(posts, tr.posts.Load())
		})
	}
}

func splitRedirect(t *testing.T, location string) (string, string) {
	t.Helper()
	u, q, ok := strings.Cut(location, "?")
	require.True(t, ok)
	return u, q
}
