// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithExpirySkew provides an optional expiry skew duration for: Token, State
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenOptions:
			v.withExpirySkew = d
		case *stOptions:
			v.withExpirySkew = d
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is, for: State
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenOptions:
			v.withNowFunc = now
		case *stOptions:
			v.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger for: Provider, KeyProvider,
// TokenValidator
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *providerOptions:
			v.withLogger = l
		case *keyProviderOptions:
			v.withLogger = l
		case *validatorOptions:
			v.withLogger = l
		}
	}
}

// WithClock provides an optional clock used for retry delays and token expiry
// checks, for: Provider, KeyProvider, TokenValidator
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *providerOptions:
			v.withClock = c
		case *keyProviderOptions:
			v.withClock = c
		case *validatorOptions:
			v.withClock = c
		}
	}
}

// WithMetrics provides optional prometheus metrics, for: Provider, KeyProvider
func WithMetrics(m *Metrics) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *providerOptions:
			v.withMetrics = m
		case *keyProviderOptions:
			v.withMetrics = m
		}
	}
}
