// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"

	"github.com/hashicorp/go-cleanhttp"
)

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 1 << 20

// Transport sends the requests made to a provider's token and jwks endpoints
// and returns the raw JSON response bodies.
//
// Implementations must report failures at the boundary as either a
// *TransportError or an *HTTPStatusError so the retry policy can tell a
// provider that couldn't be reached from one that answered with an error.
type Transport interface {
	Post(ctx context.Context, url string, body string, headers http.Header) ([]byte, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// FailureKind tags a transport failure.
type FailureKind int

const (
	// Terminal failures must not be retried.
	Terminal FailureKind = iota

	// Transient failures happened before a connection was established
	// (dial and DNS errors) and may be retried.
	Transient
)

func (k FailureKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "terminal"
}

// TransportError is a failure to get any HTTP response from the provider.
type TransportError struct {
	Kind   FailureKind
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failure: %s %s: %s", e.Kind, e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError is an HTTP response carrying a non-2xx status.  It is
// always terminal.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error returns "<status> - <statusText> <body>".
func (e *HTTPStatusError) Error() string {
	return strings.TrimSpace(fmt.Sprintf("%d - %s %s", e.StatusCode, e.Status, e.Body))
}

// HTTPTransport implements Transport with an *http.Client.
type HTTPTransport struct {
	client *http.Client
}

// ensure that HTTPTransport implements the Transport interface
var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport returns a Transport using the client. A nil client is
// replaced with a pooled client from go-cleanhttp.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &HTTPTransport{client: client}
}

// Post sends a POST with the body and headers provided.
func (t *HTTPTransport) Post(ctx context.Context, url string, body string, headers http.Header) ([]byte, error) {
	const op = "HTTPTransport.Post"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, &TransportError{Kind: Terminal, Method: http.MethodPost, URL: url, Err: err})
	}
	for k, v := range headers {
		req.Header[k] = append([]string(nil), v...)
	}
	return t.do(req)
}

// Get sends a GET asking for JSON.
func (t *HTTPTransport) Get(ctx context.Context, url string) ([]byte, error) {
	const op = "HTTPTransport.Get"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, &TransportError{Kind: Terminal, Method: http.MethodGet, URL: url, Err: err})
	}
	req.Header.Set("Accept", "application/json")
	return t.do(req)
}

func (t *HTTPTransport) do(req *http.Request) ([]byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Kind: classifyTransportErr(req.Context(), err), Method: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Kind: Terminal, Method: req.Method, URL: req.URL.String(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     reasonPhrase(resp),
			Body:       string(body),
		}
	}
	return body, nil
}

// reasonPhrase is the status text the provider sent, or the standard one
// when it sent none.
func reasonPhrase(resp *http.Response) string {
	if r := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))); r != "" {
		return r
	}
	return http.StatusText(resp.StatusCode)
}

// classifyTransportErr reports Transient only when no connection was made.
func classifyTransportErr(ctx context.Context, err error) FailureKind {
	if ctx.Err() != nil {
		return Terminal
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return Transient
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return Transient
	}
	return Terminal
}
