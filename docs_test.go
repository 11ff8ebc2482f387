// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package capflow_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/capflow/oidc"
)

func Example_oidc() {
	ctx := context.Background()

	// Create a new Config
	pc, err := oidc.NewConfig(
		"http://your-issuer.com/",
		"your_client_id",
		[]oidc.Alg{oidc.RS256},
		"http://your_redirect_url/callback",
		oidc.WithClientSecret("your_client_secret"),
	)
	if err != nil {
		// handle error
	}

	// Discover the issuer's metadata
	client, err := pc.HttpClient()
	if err != nil {
		// handle error
	}
	md, err := oidc.Discover(ctx, pc.Authority, client)
	if err != nil {
		// handle error
	}
	store := oidc.NewMemoryStore()
	if err := store.WriteIssuerMetadata(pc.Authority, md); err != nil {
		// handle error
	}

	// Create a provider
	p, err := oidc.NewProvider(pc, store)
	if err != nil {
		// handle error
	}

	// Create a State for a user's authentication attempt
	attempt, err := oidc.NewState(2 * time.Minute)
	if err != nil {
		// handle error
	}

	// Create an auth URL
	authURL, err := p.AuthURL(ctx, attempt)
	if err != nil {
		// handle error
	}
	fmt.Println("open url to kick-off authentication: ", authURL)

	// Complete the flow with the url the provider redirected back to.
	redirectURL := "http://your_redirect_url/callback?state=...&code=..."
	result, err := p.RunCodeFlowCallback(ctx, attempt, redirectURL)
	switch {
	case err == nil:
	case oidc.KindOf(err) == oidc.KindValidation:
		// result.Failure holds the same error
		fmt.Println("tokens rejected: ", result.Failure)
		return
	default:
		// handle error
		return
	}
	fmt.Println("subject: ", result.Claims.Subject)

	// Later, refresh the tokens.  The new id_token must belong to the same
	// session.
	refreshed, err := p.RunRefreshFlow(ctx, result.Token.RefreshToken, result.Token.IdToken)
	if errors.Is(err, oidc.ErrSessionMismatch) {
		// the provider returned tokens for a different session
	}
	if err != nil {
		// handle error
		return
	}
	fmt.Println("refreshed access token expires: ", refreshed.Token.Expiry)
}
