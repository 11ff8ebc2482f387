// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/capflow/oidc"
)

func ExampleAuthCode() {
	ctx := context.Background()

	// Create a new Config
	pc, _ := oidc.NewConfig(
		"http://your-issuer.com/",
		"your_client_id",
		[]oidc.Alg{oidc.RS256},
		"http://your_redirect_url/auth-code-callback",
		oidc.WithClientSecret("your_client_secret"),
	)

	// Discover the issuer's metadata and keep it in a store the provider
	// reads from.
	client, _ := pc.HttpClient()
	md, _ := oidc.Discover(ctx, pc.Authority, client)
	store := oidc.NewMemoryStore()
	_ = store.WriteIssuerMetadata(pc.Authority, md)

	// Create a provider
	p, _ := oidc.NewProvider(pc, store)

	// Create a State for a user's authentication attempt and save it so the
	// callback can find it.
	attempt, _ := oidc.NewState(2 * time.Minute)
	_ = store.WriteState(attempt)

	// A function to handle successful attempts.
	successFn := func(
		stateID string,
		r *oidc.ValidationResult,
		w http.ResponseWriter,
		req *http.Request,
	) {
		w.WriteHeader(http.StatusOK)
		printable := fmt.Sprintf("subject: %s", r.Claims.Subject)
		_, _ = w.Write([]byte(printable))
	}
	// A function to handle errors and failed attempts.
	errorFn := func(
		stateID string,
		r *AuthenErrorResponse,
		e error,
		w http.ResponseWriter,
		req *http.Request,
	) {
		if e != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(e.Error()))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}

	// create the authorization code callback and register it for use.
	authCodeCallback, _ := AuthCode(ctx, p, store, successFn, errorFn)
	http.HandleFunc("/auth-code-callback", authCodeCallback)

	authURL, _ := p.AuthURL(ctx, attempt)
	fmt.Println("open url to kick-off authentication: ", authURL)
}
