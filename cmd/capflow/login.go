// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/hashicorp/capflow/oidc"
	"github.com/hashicorp/capflow/oidc/callback"
	"github.com/spf13/cobra"
)

const successHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>capflow</title></head>
<body>Authentication complete. You may close this window.</body>
</html>
`

func newLoginCmd(g *globals) *cobra.Command {
	var maxAge int
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Run the authorization code flow with a local callback listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			var opts []oidc.Option
			if maxAge >= 0 {
				opts = append(opts, oidc.WithMaxAge(uint(maxAge)))
			}
			return runLogin(ctx, g, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts...)
		},
	}
	cmd.Flags().IntVar(&maxAge, "max-age", -1, "max age of user authentication in seconds")
	return cmd
}

func runLogin(ctx context.Context, g *globals, out, errOut io.Writer, authOpts ...oidc.Option) error {
	const op = "runLogin"
	p, err := g.provider(ctx)
	if err != nil {
		return err
	}

	timeout := g.cfg.attemptTimeout()
	attempt, err := oidc.NewState(timeout)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	handler, doneCh, err := callback.AuthCodeWithChannel(ctx, p, attempt, success(g), failed(g))
	if err != nil {
		return fmt.Errorf("%s: error creating auth code handler: %w", op, err)
	}
	authURL, err := p.AuthURL(ctx, attempt, authOpts...)
	if err != nil {
		return fmt.Errorf("%s: error getting auth url: %w", op, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", handler)
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", g.cfg.Port))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	defer func() {
		// let the browser receive the callback's response
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			g.logger.Warn("error shutting down callback listener", "error", err)
		}
	}()

	srvCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCh <- err
		}
	}()

	fmt.Fprintf(errOut, "Complete the login via your OIDC provider. Open this url in your browser:\n\n    %s\n\n", authURL)
	if g.onAuthURL != nil {
		g.onAuthURL(authURL)
	}

	// Wait for either the callback to finish, an interrupt or the attempt to
	// expire.
	select {
	case err := <-srvCh:
		return fmt.Errorf("%s: server closed with error: %w", op, err)
	case resp := <-doneCh:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", op, resp.Error)
		}
		if g.tokensPath != "" {
			if err := writeTokens(g.tokensPath, newSavedTokens(resp.Result)); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
		return printResult(out, resp.Result)
	case <-ctx.Done():
		return fmt.Errorf("%s: interrupted: %w", op, ctx.Err())
	case <-time.After(timeout):
		return fmt.Errorf("%s: timed out waiting for response from provider", op)
	}
}

func success(g *globals) callback.SuccessResponseFunc {
	return func(state string, r *oidc.ValidationResult, w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(successHTML)); err != nil {
			g.logger.Error("error writing successful response", "error", err)
		}
	}
}

func failed(g *globals) callback.ErrorResponseFunc {
	return func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		var msg string
		switch {
		case e != nil:
			msg = fmt.Sprintf("callback error (%s): %s", oidc.KindOf(e), e)
			w.WriteHeader(http.StatusInternalServerError)
		case r != nil:
			msg = fmt.Sprintf("callback error from oidc provider: %s: %s", r.Error, r.Description)
			w.WriteHeader(http.StatusUnauthorized)
		default:
			msg = "unknown error from callback"
			w.WriteHeader(http.StatusInternalServerError)
		}
		g.logger.Error("login failed", "state", state, "error", msg)
		if _, err := w.Write([]byte(msg)); err != nil {
			g.logger.Error("error writing failed response", "error", err)
		}
	}
}

// printableResult is needed because the oidc tokens redact themselves.
type printableResult struct {
	IdToken      string                 `json:"id_token"`
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	Expiry       time.Time              `json:"expiry,omitempty"`
	SessionState string                 `json:"session_state,omitempty"`
	Claims       map[string]interface{} `json:"claims"`
}

func printResult(w io.Writer, r *oidc.ValidationResult) error {
	const op = "printResult"
	pr := printableResult{
		IdToken:      string(r.Token.IdToken),
		AccessToken:  string(r.Token.AccessToken),
		RefreshToken: string(r.Token.RefreshToken),
		Expiry:       r.Token.Expiry,
		SessionState: r.SessionState,
		Claims:       r.RawClaims,
	}
	data, err := json.MarshalIndent(pr, "", "    ")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
