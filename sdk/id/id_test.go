// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		prefix  string
		wantLen int
	}{
		{
			name:    "valid",
			prefix:  "st",
			wantLen: Length + len("st_"),
		},
		{
			name:    "no-prefix",
			prefix:  "",
			wantLen: Length,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.prefix)
			require.NoError(err)
			assert.Len(got, tt.wantLen)
			if tt.prefix != "" {
				assert.True(strings.HasPrefix(got, tt.prefix+"_"))
			}
			for _, c := range strings.TrimPrefix(got, tt.prefix+"_") {
				assert.Containsf(charset, string(c), "unexpected char %q", c)
			}
		})
	}
	t.Run("unique", func(t *testing.T) {
		seen := map[string]struct{}{}
		for i := 0; i < 100; i++ {
			got, err := New("")
			require.NoError(t, err)
			_, dup := seen[got]
			require.False(t, dup)
			seen[got] = struct{}{}
		}
	})
}
