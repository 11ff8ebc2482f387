// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// capflow provides the client side of the OIDC authorization code flow: the
// callback pipeline which exchanges a redirect's code for tokens and
// validates them, and the refresh pipeline which renews them.
//
// See the oidc package for the pipelines, oidc/callback for an
// http.HandlerFunc wrapping the callback pipeline and cmd/capflow for a CLI.
package capflow
