// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/capflow/jwt"
	"github.com/hashicorp/capflow/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
)

const (
	// TestKeyID is the kid of the TestProvider's signing key.
	TestKeyID = "test-key"

	testAccessToken = "test-access-token"
)

// TestProvider is a local https server that supports the provider
// capabilities needed by the code and refresh flows: discovery, /auth,
// /token (authorization_code and refresh_token grants) and /certs.  It counts
// the requests it receives and can be told to fail them.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	privKey crypto.PrivateKey
	jwks    *jose.JSONWebKeySet

	mu                  sync.Mutex
	allowedRedirectURIs []string
	replySubject        string
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	expectedAuthNonce   string
	refreshToken        string
	nextRefreshToken    string
	omitRefreshToken    bool
	sessionId           string
	authTime            time.Time
	customClaims        map[string]interface{}
	customAudience      string
	customIssuer        string
	idTokenExpiry       time.Duration
	omitIDToken         bool
	tokenStatus         int
	jwksStatus          int
	tokenRequests       int
	jwksRequests        int
	lastTokenForm       url.Values

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test completes.  A zero port picks a free one.
func StartTestProvider(t *testing.T, port int) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		allowedRedirectURIs: []string{
			"https://example.com",
		},
		replySubject:  "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
		authTime:      time.Now().Truncate(time.Second),
		idTokenExpiry: 5 * time.Minute,
		t:             t,
	}
	pub, priv := TestGenerateKeys(t)
	p.privKey = priv
	p.jwks = TestJWKS(pub, RS256, TestKeyID)

	p.httpServer = httptestNewUnstartedServerWithPort(t, p, port)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver.
// It's also the provider's issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// Metadata returns the issuer metadata served by discovery.
func (p *TestProvider) Metadata() *IssuerMetadata {
	return &IssuerMetadata{
		Issuer:                p.Addr(),
		AuthorizationEndpoint: p.Addr() + "/auth",
		TokenEndpoint:         p.Addr() + "/token",
		JwksUri:               p.Addr() + "/certs",
		IdTokenSigningAlgs:    []string{string(RS256)},
	}
}

// SigningKey returns the private key the provider signs id_tokens with.
func (p *TestProvider) SigningKey() crypto.PrivateKey { return p.privKey }

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.  When the secret isn't empty /token requires it with HTTP
// Basic auth.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce configures the nonce value required for /auth and
// embedded in issued id_tokens.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured a sample of "https://example.com" is
// used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetRefreshTokens configures the refresh token issued by the
// authorization_code grant and accepted by the refresh_token grant, and the
// one issued by the refresh_token grant.
func (p *TestProvider) SetRefreshTokens(current, next string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshToken = current
	p.nextRefreshToken = next
}

// OmitRefreshTokens makes the refresh_token grant reply without a new
// refresh_token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// SetSessionId configures the "sid" claim of issued id_tokens.
func (p *TestProvider) SetSessionId(sid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionId = sid
}

// SetSubject configures the "sub" claim of issued id_tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetCustomClaims lets you set claims to return in the JWT issued by the OIDC
// workflow. They override the standard claims.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the JWT issued
// by the OIDC workflow.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetCustomIssuer configures what issuer value to embed in the JWT issued by
// the OIDC workflow.
func (p *TestProvider) SetCustomIssuer(iss string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customIssuer = iss
}

// SetIdTokenExpiry configures how long issued id_tokens are valid for; a
// negative value issues expired tokens.
func (p *TestProvider) SetIdTokenExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenExpiry = d
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetTokenStatus makes /token reply with the http status; zero restores
// normal replies.
func (p *TestProvider) SetTokenStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// SetJWKSStatus makes /certs reply with the http status; zero restores normal
// replies.
func (p *TestProvider) SetJWKSStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jwksStatus = status
}

// TokenRequests returns the number of /token requests received.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// JWKSRequests returns the number of /certs requests received.
func (p *TestProvider) JWKSRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jwksRequests
}

// LastTokenRequest returns the form of the last /token request.
func (p *TestProvider) LastTokenRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenForm
}

// IdToken issues an id_token as /token would, for the access_token and code
// provided.  Either may be empty.
func (p *TestProvider) IdToken(accessToken, code string) IdToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueIdToken(accessToken, code)
}

// issueIdToken must be called with p.mu held.
func (p *TestProvider) issueIdToken(accessToken, code string) IdToken {
	p.t.Helper()
	now := time.Now()
	stdClaims := josejwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  josejwt.NewNumericDate(now),
		NotBefore: josejwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    josejwt.NewNumericDate(now.Add(p.idTokenExpiry)),
		Audience:  josejwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = josejwt.Audience{p.customAudience}
	}
	if p.customIssuer != "" {
		stdClaims.Issuer = p.customIssuer
	}
	extra := map[string]interface{}{
		"auth_time": p.authTime.Unix(),
	}
	if p.expectedAuthNonce != "" {
		extra["nonce"] = p.expectedAuthNonce
	}
	if p.sessionId != "" {
		extra["sid"] = p.sessionId
	}
	if accessToken != "" {
		h, err := jwt.HashClaim(RS256, accessToken)
		require.NoError(p.t, err)
		extra["at_hash"] = h
	}
	if code != "" {
		h, err := jwt.HashClaim(RS256, code)
		require.NoError(p.t, err)
		extra["c_hash"] = h
	}
	for k, v := range p.customClaims {
		extra[k] = v
	}
	return IdToken(TestSignJWT(p.t, p.privKey, RS256, TestKeyID, stdClaims, extra))
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.Metadata())

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if !strutils.StrListContains(splitScopes(qv.Get("scope")), "openid") {
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}
		nonce := qv.Get("nonce")
		if p.expectedAuthNonce != "" && p.expectedAuthNonce != nonce {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}
		p.expectedAuthNonce = nonce

		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		if p.sessionId != "" {
			redirectURI += "&session_state=" + url.QueryEscape(p.sessionId)
		}

		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.jwksRequests++
		if p.jwksStatus != 0 {
			w.WriteHeader(p.jwksStatus)
			_, _ = w.Write([]byte("keys unavailable"))
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.tokenRequests++
		if err := req.ParseForm(); err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "unable to parse form")
			return
		}
		p.lastTokenForm = req.PostForm
		if p.tokenStatus != 0 {
			_ = p.writeTokenErrorResponse(w, p.tokenStatus, "server_error", "token endpoint failure")
			return
		}
		if p.clientSecret != "" {
			id, secret, ok := req.BasicAuth()
			if !ok || unescape(id) != p.clientID || unescape(secret) != p.clientSecret {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
				return
			}
		}
		if req.PostForm.Get("client_id") != p.clientID {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unexpected client_id")
			return
		}

		reply := struct {
			AccessToken  string `json:"access_token"`
			IDToken      string `json:"id_token,omitempty"`
			RefreshToken string `json:"refresh_token,omitempty"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int    `json:"expires_in"`
		}{
			AccessToken: testAccessToken,
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		}

		switch req.PostForm.Get("grant_type") {
		case "authorization_code":
			code := req.PostForm.Get("code")
			switch {
			case !strutils.StrListContains(p.allowedRedirectURIs, req.PostForm.Get("redirect_uri")):
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			case code != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			}
			reply.IDToken = string(p.issueIdToken(reply.AccessToken, code))
			reply.RefreshToken = p.refreshToken
		case "refresh_token":
			if p.refreshToken == "" || req.PostForm.Get("refresh_token") != p.refreshToken {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected refresh token")
				return
			}
			reply.IDToken = string(p.issueIdToken(reply.AccessToken, ""))
			if !p.omitRefreshToken {
				reply.RefreshToken = p.nextRefreshToken
			}
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
			return
		}
		if p.omitIDToken {
			reply.IDToken = ""
		}
		_ = p.writeJSON(w, &reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func splitScopes(s string) []string {
	var out []string
	for _, v := range bytes.Fields([]byte(s)) {
		out = append(out, string(v))
	}
	return out
}

func unescape(s string) string {
	u, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return u
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but allows the caller to explicitly choose the
// port if desired.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	require := require.New(t)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
}
