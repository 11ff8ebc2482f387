// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/capflow/oidc"
	"gopkg.in/yaml.v3"
)

const defaultAttemptTimeout = 2 * time.Minute

// cliConfig is the yaml config file read by every command.  Flags override
// the values read from the file.
type cliConfig struct {
	Issuer            string            `yaml:"issuer"`
	ClientID          string            `yaml:"client_id"`
	ClientSecret      string            `yaml:"client_secret,omitempty"`
	Port              int               `yaml:"port"`
	Scopes            []string          `yaml:"scopes,omitempty"`
	Algs              []string          `yaml:"algs,omitempty"`
	Audiences         []string          `yaml:"audiences,omitempty"`
	ProviderCAFile    string            `yaml:"provider_ca_file,omitempty"`
	AttemptTimeout    time.Duration     `yaml:"attempt_timeout,omitempty"`
	RefreshRetryDelay *time.Duration    `yaml:"refresh_retry_delay,omitempty"`
	KeyFetchRetries   *int              `yaml:"key_fetch_retries,omitempty"`
	ClockSkew         *time.Duration    `yaml:"clock_skew,omitempty"`
	TokenParams       map[string]string `yaml:"token_params,omitempty"`
}

// loadConfig reads the yaml file at path.  An empty path returns an empty
// config so every value can come from flags.
func loadConfig(path string) (*cliConfig, error) {
	const op = "loadConfig"
	cfg := &cliConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read %s: %w", op, path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: unable to parse %s: %w", op, path, err)
	}
	return cfg, nil
}

func (c *cliConfig) redirectURL() string {
	return fmt.Sprintf("http://localhost:%d/callback", c.Port)
}

func (c *cliConfig) attemptTimeout() time.Duration {
	if c.AttemptTimeout <= 0 {
		return defaultAttemptTimeout
	}
	return c.AttemptTimeout
}

// oidcConfig converts the cli config into an oidc.Config.
func (c *cliConfig) oidcConfig() (*oidc.Config, error) {
	const op = "cliConfig.oidcConfig"
	switch {
	case c.Issuer == "":
		return nil, fmt.Errorf("%s: issuer is empty", op)
	case c.ClientID == "":
		return nil, fmt.Errorf("%s: client id is empty", op)
	case c.Port <= 0 || c.Port > 65535:
		return nil, fmt.Errorf("%s: port %d is invalid", op, c.Port)
	}

	algs := []oidc.Alg{oidc.RS256}
	if len(c.Algs) > 0 {
		algs = make([]oidc.Alg, 0, len(c.Algs))
		for _, a := range c.Algs {
			algs = append(algs, oidc.Alg(a))
		}
	}

	opts := []oidc.Option{
		oidc.WithScopes(c.Scopes...),
		oidc.WithAudiences(c.Audiences...),
	}
	if c.ClientSecret != "" {
		opts = append(opts, oidc.WithClientSecret(oidc.ClientSecret(c.ClientSecret)))
	}
	if c.ProviderCAFile != "" {
		pem, err := os.ReadFile(c.ProviderCAFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read provider CA: %w", op, err)
		}
		opts = append(opts, oidc.WithProviderCA(string(pem)))
	}
	if c.RefreshRetryDelay != nil {
		opts = append(opts, oidc.WithRefreshRetryDelay(*c.RefreshRetryDelay))
	}
	if c.KeyFetchRetries != nil {
		opts = append(opts, oidc.WithKeyFetchRetries(*c.KeyFetchRetries))
	}
	if c.ClockSkew != nil {
		opts = append(opts, oidc.WithClockSkew(*c.ClockSkew))
	}
	if len(c.TokenParams) > 0 {
		opts = append(opts, oidc.WithCustomTokenParams(c.TokenParams))
	}

	oc, err := oidc.NewConfig(c.Issuer, c.ClientID, algs, c.redirectURL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return oc, nil
}

// savedTokens is what login writes and refresh reads back.
type savedTokens struct {
	IdToken      string    `yaml:"id_token"`
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token,omitempty"`
	SessionState string    `yaml:"session_state,omitempty"`
	Expiry       time.Time `yaml:"expiry,omitempty"`
}

var errNoRefreshToken = errors.New("no refresh token saved")

func newSavedTokens(r *oidc.ValidationResult) *savedTokens {
	return &savedTokens{
		IdToken:      string(r.Token.IdToken),
		AccessToken:  string(r.Token.AccessToken),
		RefreshToken: string(r.Token.RefreshToken),
		SessionState: r.SessionState,
		Expiry:       r.Token.Expiry,
	}
}

func readTokens(path string) (*savedTokens, error) {
	const op = "readTokens"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var t savedTokens
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%s: unable to parse %s: %w", op, path, err)
	}
	if t.RefreshToken == "" {
		return nil, fmt.Errorf("%s: %s: %w", op, path, errNoRefreshToken)
	}
	return &t, nil
}

func writeTokens(path string, t *savedTokens) error {
	const op = "writeTokens"
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
