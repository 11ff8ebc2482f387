// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/capflow/oidc"
	sdkHttp "github.com/hashicorp/capflow/sdk/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write := func(name, contents string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
		return path
	}
	delay := 5 * time.Second
	retries := 4

	tests := []struct {
		name    string
		path    string
		want    *cliConfig
		wantErr bool
	}{
		{
			name: "empty-path",
			want: &cliConfig{},
		},
		{
			name: "valid",
			path: write("valid.yaml", `
issuer: https://idp.test
client_id: cli
client_secret: secret
port: 8250
scopes: [email, profile]
algs: [ES256]
attempt_timeout: 30s
refresh_retry_delay: 5s
key_fetch_retries: 4
token_params:
  resource: api
`),
			want: &cliConfig{
				Issuer:            "https://idp.test",
				ClientID:          "cli",
				ClientSecret:      "secret",
				Port:              8250,
				Scopes:            []string{"email", "profile"},
				Algs:              []string{"ES256"},
				AttemptTimeout:    30 * time.Second,
				RefreshRetryDelay: &delay,
				KeyFetchRetries:   &retries,
				TokenParams:       map[string]string{"resource": "api"},
			},
		},
		{
			name:    "missing-file",
			path:    filepath.Join(dir, "missing.yaml"),
			wantErr: true,
		},
		{
			name:    "bad-yaml",
			path:    write("bad.yaml", "issuer: [unterminated"),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := loadConfig(tt.path)
			if tt.wantErr {
				require.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestCliConfig_oidcConfig(t *testing.T) {
	t.Parallel()
	skew := 2 * time.Minute
	tests := []struct {
		name        string
		cfg         cliConfig
		wantErr     bool
		wantIsErr   error
		wantRedir   string
		wantAlgs    []oidc.Alg
		wantSkew    time.Duration
		wantTimeout time.Duration
	}{
		{
			name:        "defaults",
			cfg:         cliConfig{Issuer: "https://idp.test", ClientID: "cli", Port: 8250},
			wantRedir:   "http://localhost:8250/callback",
			wantAlgs:    []oidc.Alg{oidc.RS256},
			wantSkew:    time.Minute,
			wantTimeout: defaultAttemptTimeout,
		},
		{
			name: "overrides",
			cfg: cliConfig{
				Issuer:         "https://idp.test",
				ClientID:       "cli",
				Port:           9000,
				Algs:           []string{"ES384"},
				ClockSkew:      &skew,
				AttemptTimeout: time.Second,
			},
			wantRedir:   "http://localhost:9000/callback",
			wantAlgs:    []oidc.Alg{oidc.ES384},
			wantSkew:    skew,
			wantTimeout: time.Second,
		},
		{
			name:    "missing-issuer",
			cfg:     cliConfig{ClientID: "cli", Port: 8250},
			wantErr: true,
		},
		{
			name:    "missing-client-id",
			cfg:     cliConfig{Issuer: "https://idp.test", Port: 8250},
			wantErr: true,
		},
		{
			name:    "bad-port",
			cfg:     cliConfig{Issuer: "https://idp.test", ClientID: "cli"},
			wantErr: true,
		},
		{
			name:      "bad-alg",
			cfg:       cliConfig{Issuer: "https://idp.test", ClientID: "cli", Port: 8250, Algs: []string{"HS256"}},
			wantErr:   true,
			wantIsErr: oidc.ErrInvalidParameter,
		},
		{
			name:    "missing-ca-file",
			cfg:     cliConfig{Issuer: "https://idp.test", ClientID: "cli", Port: 8250, ProviderCAFile: "/does/not/exist.pem"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := tt.cfg.oidcConfig()
			if tt.wantErr {
				require.Error(err)
				if tt.wantIsErr != nil {
					assert.ErrorIs(err, tt.wantIsErr)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantRedir, got.RedirectUrl)
			assert.Equal(tt.wantAlgs, got.SupportedSigningAlgs)
			assert.Equal(tt.wantSkew, got.ClockSkew)
			assert.Equal(tt.wantTimeout, tt.cfg.attemptTimeout())
		})
	}
}

func TestRootCmd_flags(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	path := filepath.Join(t.TempDir(), "capflow.yaml")
	require.NoError(os.WriteFile(path, []byte("issuer: https://idp.test\nclient_id: from-file\nport: 8250\n"), 0o600))

	g := &globals{}
	cmd := rootCmd(g)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"refresh", "--config", path, "--client-id", "from-flag", "--port", "9000"})
	err := cmd.Execute()
	require.Error(err)
	assert.Contains(err.Error(), "--tokens is required")

	assert.Equal("https://idp.test", g.cfg.Issuer)
	assert.Equal("from-flag", g.cfg.ClientID)
	assert.Equal(9000, g.cfg.Port)

	g = &globals{}
	cmd = rootCmd(g)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"refresh", "--log-level", "loud"})
	err = cmd.Execute()
	require.Error(err)
	assert.Contains(err.Error(), "unknown log level")
}

func TestReadTokens(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "tokens.yaml")
	want := &savedTokens{
		IdToken:      "id",
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(writeTokens(path, want))
	got, err := readTokens(path)
	require.NoError(err)
	assert.Equal(want, got)

	noRefresh := filepath.Join(dir, "no-refresh.yaml")
	require.NoError(writeTokens(noRefresh, &savedTokens{IdToken: "id", AccessToken: "at"}))
	_, err = readTokens(noRefresh)
	assert.ErrorIs(err, errNoRefreshToken)
}

// TestLoginAndRefresh drives both commands against a TestProvider.
func TestLoginAndRefresh(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(l.Close())

	tp := oidc.StartTestProvider(t, 0)
	tp.SetClientCreds("cli", "cli-secret")
	tp.SetExpectedAuthCode("code-1")
	tp.SetRefreshTokens("rt-1", "rt-2")
	tp.SetSessionId("sid-1")
	tp.SetAllowedRedirectURIs([]string{fmt.Sprintf("http://localhost:%d/callback", port)})

	dir := t.TempDir()
	caPath := filepath.Join(dir, "ca.pem")
	require.NoError(os.WriteFile(caPath, []byte(tp.CACert()), 0o600))
	configPath := filepath.Join(dir, "capflow.yaml")
	config := fmt.Sprintf("issuer: %s\nclient_id: cli\nclient_secret: cli-secret\nport: %d\nprovider_ca_file: %s\nrefresh_retry_delay: 0s\n", tp.Addr(), port, caPath)
	require.NoError(os.WriteFile(configPath, []byte(config), 0o600))
	tokensPath := filepath.Join(dir, "tokens.yaml")

	browser, err := sdkHttp.NewClient(tp.CACert())
	require.NoError(err)
	browserDone := make(chan error, 1)
	g := &globals{
		onAuthURL: func(authURL string) {
			go func() {
				resp, err := browser.Get(authURL)
				if err == nil {
					_, _ = io.Copy(io.Discard, resp.Body)
					_ = resp.Body.Close()
					if resp.StatusCode != http.StatusOK {
						err = fmt.Errorf("callback status %d", resp.StatusCode)
					}
				}
				browserDone <- err
			}()
		},
	}

	var out bytes.Buffer
	cmd := rootCmd(g)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"login", "--config", configPath, "--tokens", tokensPath})
	require.NoError(cmd.ExecuteContext(ctx))
	require.NoError(<-browserDone)

	var login printableResult
	require.NoError(json.Unmarshal(out.Bytes(), &login))
	assert.Equal("rt-1", login.RefreshToken)
	assert.Equal("sid-1", login.SessionState)
	assert.NotEmpty(login.IdToken)
	assert.Equal("cli", login.Claims["aud"])

	saved, err := readTokens(tokensPath)
	require.NoError(err)
	assert.Equal("rt-1", saved.RefreshToken)
	assert.Equal(login.IdToken, saved.IdToken)

	out.Reset()
	cmd = rootCmd(&globals{})
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"refresh", "--config", configPath, "--tokens", tokensPath})
	require.NoError(cmd.ExecuteContext(ctx))

	var refreshed printableResult
	require.NoError(json.Unmarshal(out.Bytes(), &refreshed))
	assert.Equal("rt-2", refreshed.RefreshToken)
	assert.Equal("sid-1", refreshed.SessionState)

	saved, err = readTokens(tokensPath)
	require.NoError(err)
	assert.Equal("rt-2", saved.RefreshToken)
}
