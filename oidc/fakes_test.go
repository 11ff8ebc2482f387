// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

// testRequest is one request seen by a testTransport.
type testRequest struct {
	url     string
	body    string
	headers http.Header
}

// testTransport records requests and returns its scripted failures, in order,
// before delegating to next or replying with reply.  onPost, when set, is
// called with the number of posts so far.
type testTransport struct {
	mu       sync.Mutex
	failures []error
	next     Transport
	reply    []byte
	onPost   func(n int)
	posts    []testRequest
	gets     []string
}

var _ Transport = (*testTransport)(nil)

func (tt *testTransport) Post(ctx context.Context, url string, body string, headers http.Header) ([]byte, error) {
	tt.mu.Lock()
	tt.posts = append(tt.posts, testRequest{url: url, body: body, headers: headers.Clone()})
	n := len(tt.posts)
	err := tt.popFailure()
	tt.mu.Unlock()
	if tt.onPost != nil {
		tt.onPost(n)
	}
	if err != nil {
		return nil, err
	}
	if tt.next != nil {
		return tt.next.Post(ctx, url, body, headers)
	}
	return tt.reply, nil
}

func (tt *testTransport) Get(ctx context.Context, url string) ([]byte, error) {
	tt.mu.Lock()
	tt.gets = append(tt.gets, url)
	err := tt.popFailure()
	tt.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if tt.next != nil {
		return tt.next.Get(ctx, url)
	}
	return tt.reply, nil
}

func (tt *testTransport) popFailure() error {
	if len(tt.failures) == 0 {
		return nil
	}
	err := tt.failures[0]
	tt.failures = tt.failures[1:]
	return err
}

func (tt *testTransport) postCount() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return len(tt.posts)
}

func (tt *testTransport) getCount() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return len(tt.gets)
}

// transientErrs returns n dial failures.
func transientErrs(n int) []error {
	errs := make([]error, 0, n)
	for i := 0; i < n; i++ {
		errs = append(errs, &TransportError{Kind: Transient, Method: http.MethodPost, URL: "https://idp.test", Err: errors.New("connect: connection refused")})
	}
	return errs
}

// testState is a State with fixed values.
type testState struct {
	id      string
	nonce   string
	expired bool
}

var _ State = (*testState)(nil)

func (s *testState) Id() string               { return s.id }
func (s *testState) Nonce() string            { return s.nonce }
func (s *testState) IsExpired(...Option) bool { return s.expired }

// testKeySource returns fixed keys or a fixed error, counting calls.
type testKeySource struct {
	mu    sync.Mutex
	keys  *jose.JSONWebKeySet
	err   error
	calls int
}

var _ KeySource = (*testKeySource)(nil)

func (ks *testKeySource) SigningKeys(context.Context) (*jose.JSONWebKeySet, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.calls++
	if ks.err != nil {
		return nil, ks.err
	}
	return ks.keys, nil
}

// testStore returns a MemoryStore holding the metadata for authority.
func testStore(t *testing.T, authority string, md *IssuerMetadata) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	if md != nil {
		require.NoError(t, s.WriteIssuerMetadata(authority, md))
	}
	return s
}

// testProviderConfig returns a Config for a TestProvider with no retry
// delays.
func testProviderConfig(t *testing.T, tp *TestProvider, opt ...Option) *Config {
	t.Helper()
	opts := append([]Option{
		WithProviderCA(tp.CACert()),
		WithRefreshRetryDelay(0),
		WithKeyFetchRetryDelay(0),
	}, opt...)
	c, err := NewConfig(tp.Addr(), "test-client", []Alg{RS256}, "https://example.com", opts...)
	require.NoError(t, err)
	return c
}
