// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is a package for completing OIDC authorization code flows and
refreshing the tokens they produce.

Primary types provided by the package

* State: represents one OIDC authentication flow for a user.  It contains the
data needed to uniquely represent that one-time flow across the multiple
interactions needed to complete the OIDC flow the user is attempting.  All
States contain an expiration for the user's OIDC flow.

* Config: provides the configuration for a relying party (for example: client
Id/Secret, redirect URL, supported signing algorithms, retry delays and the
clock skew allowed when checking expiry)

* Provider: runs the code flow callback (RunCodeFlowCallback) and the refresh
flow (RunRefreshFlow).  Both exchange a grant at the authority's token
endpoint, retrying requests that couldn't reach the provider, and then
validate the id_token they receive with a TokenValidator.

* TokenValidator: verifies state, nonce, signature, issuer, audience, expiry
and the at_hash/c_hash binding claims, in that order.

* KeyProvider: fetches the authority's signing keys from its jwks_uri with
a bounded number of retries.  CachingKeySource adds a cache in front of it.

* MemoryStore: keeps the issuer metadata read by the flows and the in-flight
States they are checked against.

* Token: represents an OIDC id_token, as well as an Oauth2 access_token and
refresh_token (including the access_token expiry)

* Alg: represents asymmetric signing algorithms

Errors are classified with KindOf; transient transport failures are never
returned by a flow, only the terminal failure that follows them.

The oidc/callback package

The callback package includes the ability to create a http.HandlerFunc which
can be used for the 3rd leg of the OIDC flow where the authorization code is
exchanged for tokens.
*/
package oidc
