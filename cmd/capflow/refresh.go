// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/hashicorp/capflow/oidc"
	"github.com/spf13/cobra"
)

func newRefreshCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the tokens saved by login",
		Long: `refresh redeems the refresh token saved in the --tokens file and
replaces the saved tokens with the ones received.  The new id_token must
belong to the same session as the saved one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runRefresh(ctx, g, cmd.OutOrStdout())
		},
	}
}

func runRefresh(ctx context.Context, g *globals, out io.Writer) error {
	const op = "runRefresh"
	if g.tokensPath == "" {
		return fmt.Errorf("%s: --tokens is required", op)
	}
	saved, err := readTokens(g.tokensPath)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p, err := g.provider(ctx)
	if err != nil {
		return err
	}
	r, err := p.RunRefreshFlow(ctx, oidc.RefreshToken(saved.RefreshToken), oidc.IdToken(saved.IdToken))
	if err != nil {
		g.logger.Error("refresh failed", "kind", oidc.KindOf(err).String(), "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := writeTokens(g.tokensPath, newSavedTokens(r)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return printResult(out, r)
}
