// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
)

// UnboundedRetries makes a RetryPolicy retry transient failures until they
// stop or the context is done.
const UnboundedRetries = -1

// MinUnboundedRetryDelay is the shortest wait between retries of an
// UnboundedRetries policy, so an unreachable provider isn't retried in a
// tight loop.
const MinUnboundedRetryDelay = 10 * time.Millisecond

// RetryPolicy decides whether a failed request is sent again.
type RetryPolicy struct {
	// Delay is the wait before each retry.
	Delay time.Duration

	// MaxRetries bounds the number of retries (not attempts); use
	// UnboundedRetries for no bound.
	MaxRetries int
}

// RetryDecision is the outcome of classifying one failed attempt: either
// Retry after Delay, or fail with Err.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
	Err   error
}

// Decide classifies the failure of the given attempt (1 for the first
// request).  Only a transient *TransportError is retried.
func (p RetryPolicy) Decide(attempt int, err error) RetryDecision {
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != Transient {
		return RetryDecision{Err: err}
	}
	if p.MaxRetries != UnboundedRetries && attempt > p.MaxRetries {
		return RetryDecision{Err: fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)}
	}
	delay := p.Delay
	if p.MaxRetries == UnboundedRetries && delay < MinUnboundedRetryDelay {
		delay = MinUnboundedRetryDelay
	}
	return RetryDecision{Retry: true, Delay: delay}
}

// retrier runs a request under a RetryPolicy, waiting on its clock.
type retrier struct {
	operation string
	policy    RetryPolicy
	clock     clockwork.Clock
	logger    hclog.Logger
	metrics   *Metrics
}

func newRetrier(operation string, policy RetryPolicy, clock clockwork.Clock, logger hclog.Logger, m *Metrics) *retrier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &retrier{
		operation: operation,
		policy:    policy,
		clock:     clock,
		logger:    logger,
		metrics:   m,
	}
}

// do calls fn until it succeeds or the policy decides to fail.  When a bounded
// policy is exhausted the returned error wraps ErrRetriesExhausted and every
// attempt's error.
func (r *retrier) do(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	var attempts *multierror.Error
	for attempt := 1; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		attempts = multierror.Append(attempts, err)
		d := r.policy.Decide(attempt, err)
		if !d.Retry {
			if errors.Is(d.Err, ErrRetriesExhausted) {
				return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, attempts.ErrorOrNil())
			}
			return nil, d.Err
		}
		r.logger.Warn("provider unreachable, retrying", "operation", r.operation, "attempt", attempt, "delay", d.Delay, "error", err)
		r.metrics.retry(r.operation)
		if err := r.wait(ctx, d.Delay); err != nil {
			return nil, err
		}
	}
}

func (r *retrier) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(d):
		return nil
	}
}
