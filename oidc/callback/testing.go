// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hashicorp/capflow/oidc"
	"github.com/stretchr/testify/require"
)

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(stateID string, r *oidc.ValidationResult, w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login successful"))
}

// testFailFn is a test ErrorResponseFunc
func testFailFn(stateID string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	if e != nil {
		w.WriteHeader(http.StatusInternalServerError)
		j, _ := json.Marshal(&AuthenErrorResponse{
			Error:       "internal-callback-error",
			Description: e.Error(),
		})
		_, _ = w.Write(j)
		return
	}
	if r != nil {
		w.WriteHeader(http.StatusUnauthorized)
		j, _ := json.Marshal(r)
		_, _ = w.Write(j)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	j, _ := json.Marshal(&AuthenErrorResponse{
		Error: "unknown-callback-error",
	})
	_, _ = w.Write(j)
}

// testNewProvider creates a new Provider for the TestProvider (tp), with the
// tp's discovered metadata written to the returned store.  It sets the tp's
// client ID/secret.  This is helpful internally, but intentionally not
// exported.
func testNewProvider(t *testing.T, clientID, clientSecret, redirectURL string, tp *oidc.TestProvider) (*oidc.Provider, *oidc.MemoryStore) {
	const op = "testNewProvider"
	t.Helper()
	require := require.New(t)
	require.NotEmptyf(clientID, "%s: client id is empty", op)
	require.NotEmptyf(clientSecret, "%s: client secret is empty", op)
	require.NotEmptyf(redirectURL, "%s: redirect URL is empty", op)

	tp.SetClientCreds(clientID, clientSecret)
	c, err := oidc.NewConfig(
		tp.Addr(),
		clientID,
		[]oidc.Alg{oidc.RS256},
		redirectURL,
		oidc.WithClientSecret(oidc.ClientSecret(clientSecret)),
		oidc.WithProviderCA(tp.CACert()),
		oidc.WithRefreshRetryDelay(0),
	)
	require.NoError(err)

	client, err := c.HttpClient()
	require.NoError(err)
	md, err := oidc.Discover(context.Background(), tp.Addr(), client)
	require.NoError(err)
	store := oidc.NewMemoryStore()
	require.NoError(store.WriteIssuerMetadata(c.Authority, md))

	p, err := oidc.NewProvider(c, store)
	require.NoError(err)
	return p, store
}

// testAuthRedirect follows the provider's authorization endpoint for authURL
// and returns the redirect it answers with.
func testAuthRedirect(t *testing.T, p *oidc.Provider, authURL string) string {
	t.Helper()
	require := require.New(t)
	client, err := p.Config().HttpClient()
	require.NoError(err)
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}
