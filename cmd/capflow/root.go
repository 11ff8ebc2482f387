// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/capflow/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

// globals shared by every command, populated in PersistentPreRunE
type globals struct {
	configPath string
	logLevel   string
	tokensPath string

	// flag overrides
	issuer       string
	clientID     string
	clientSecret string
	port         int
	scopes       []string

	cfg    *cliConfig
	logger hclog.Logger

	// onAuthURL is called with the authorization URL once the callback
	// listener is up.
	onAuthURL func(authURL string)
}

func newRootCmd() *cobra.Command {
	return rootCmd(&globals{})
}

func rootCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capflow",
		Short: "Authenticate with an OIDC provider using the authorization code flow",
		Long: `capflow runs the OIDC authorization code flow against a provider and
refreshes the tokens it received.

The provider settings are read from a yaml config file and may be overridden
with flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return g.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "path to the yaml config file")
	flags.StringVar(&g.logLevel, "log-level", "warn", "log level: trace, debug, info, warn, error")
	flags.StringVar(&g.tokensPath, "tokens", "", "file the tokens are saved to and refreshed from")
	flags.StringVar(&g.issuer, "issuer", "", "issuer (authority) url")
	flags.StringVar(&g.clientID, "client-id", "", "client id")
	flags.StringVar(&g.clientSecret, "client-secret", "", "client secret")
	flags.IntVar(&g.port, "port", 0, "local port for the callback listener")
	flags.StringSliceVar(&g.scopes, "scopes", nil, "comma separated list of additional scopes to request")

	cmd.AddCommand(newLoginCmd(g))
	cmd.AddCommand(newRefreshCmd(g))
	return cmd
}

// load reads the config file and applies the flags which were set.
func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("issuer") {
		cfg.Issuer = g.issuer
	}
	if flags.Changed("client-id") {
		cfg.ClientID = g.clientID
	}
	if flags.Changed("client-secret") {
		cfg.ClientSecret = g.clientSecret
	}
	if flags.Changed("port") {
		cfg.Port = g.port
	}
	if flags.Changed("scopes") {
		cfg.Scopes = g.scopes
	}
	g.cfg = cfg

	level := hclog.LevelFromString(g.logLevel)
	if level == hclog.NoLevel {
		return fmt.Errorf("unknown log level %q", g.logLevel)
	}
	g.logger = hclog.New(&hclog.LoggerOptions{
		Name:   "capflow",
		Level:  level,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

// provider discovers the issuer's metadata and returns a Provider using it.
func (g *globals) provider(ctx context.Context) (*oidc.Provider, error) {
	const op = "provider"
	c, err := g.cfg.oidcConfig()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client, err := c.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	md, err := oidc.Discover(ctx, c.Authority, client)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	g.logger.Debug("discovered issuer metadata", "issuer", md.Issuer, "token_endpoint", md.TokenEndpoint)

	store := oidc.NewMemoryStore()
	if err := store.WriteIssuerMetadata(c.Authority, md); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p, err := oidc.NewProvider(c, store, oidc.WithLogger(g.logger.Named("oidc")))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
