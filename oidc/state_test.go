// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	t.Parallel()
	skew := 250 * time.Millisecond
	defaultExpireIn := 1 * time.Second
	testNow := func() time.Time {
		return time.Now().Add(-1 * time.Minute)
	}
	tests := []struct {
		name      string
		expireIn  time.Duration
		opts      []Option
		wantNow   func() time.Time
		wantIsErr error
	}{
		{
			name:     "valid-WithNow",
			expireIn: defaultExpireIn,
			opts:     []Option{WithNow(testNow)},
			wantNow:  testNow,
		},
		{
			name:     "valid-no-opt",
			expireIn: defaultExpireIn,
			wantNow:  time.Now,
		},
		{
			name:      "zero-expireIn",
			expireIn:  0,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "negative-expireIn",
			expireIn:  -time.Second,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewState(tt.expireIn, tt.opts...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			tExp := tt.wantNow().Add(tt.expireIn)
			assert.True(got.ExpiresAt().Before(tExp.Add(skew)))
			assert.True(got.ExpiresAt().After(tExp.Add(-skew)))
			assert.NotEqualf(got.Id(), got.Nonce(), "%s id should not equal %s nonce", got.Id(), got.Nonce())
			assert.True(strings.HasPrefix(got.Id(), "st_"))
			assert.True(strings.HasPrefix(got.Nonce(), "n_"))
		})
	}
}

func TestState_IsExpired(t *testing.T) {
	t.Parallel()
	t.Run("not-expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, err := NewState(2 * time.Second)
		require.NoError(err)
		assert.False(s.IsExpired())
	})
	t.Run("expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, err := NewState(1 * time.Nanosecond)
		require.NoError(err)
		assert.True(s.IsExpired())
	})
	t.Run("expired-within-skew", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, err := NewState(2 * time.Second)
		require.NoError(err)
		assert.True(s.IsExpired(WithExpirySkew(5 * time.Second)))
	})
}

func TestNewId(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := NewId("x")
		require.NoError(err)
		assert.True(strings.HasPrefix(id, "x_"))
		assert.False(seen[id])
		seen[id] = true
	}
}
