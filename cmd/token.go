// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	clientID     string
	clientSecret string
	tokenURL     string
	issuerURL    string
	scopes       []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Get an admin access token using Client Credentials flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := clientCredentials(cmd.Context())
		if err != nil {
			return err
		}

		token, err := config.Token(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
		return nil
	},
}

// clientCredentials resolves the token endpoint, through OIDC discovery when
// only the issuer is known.
func clientCredentials(ctx context.Context) (*clientcredentials.Config, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("--client-id and --client-secret are required")
	}

	endpoint := tokenURL
	if endpoint == "" {
		if issuerURL == "" {
			return nil, fmt.Errorf("either --token-url or --issuer-url must be provided")
		}

		provider, err := oidc.NewProvider(ctx, issuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create OIDC provider from issuer: %w", err)
		}
		endpoint = provider.Endpoint().TokenURL
	}

	return &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     endpoint,
		Scopes:       scopes,
	}, nil
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID")
	rootCmd.PersistentFlags().StringVar(&clientSecret, "client-secret", "", "Client Secret")
	rootCmd.PersistentFlags().StringVar(&tokenURL, "token-url", "", "Token URL")
	rootCmd.PersistentFlags().StringVar(&issuerURL, "issuer-url", "", "Issuer URL (for OIDC discovery)")
	rootCmd.PersistentFlags().StringSliceVar(&scopes, "scopes", []string{"membership:admin"}, "Scopes (comma-separated)")
}
