package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-chat-backend/internal/api"
	"github.com/sirosfoundation/go-chat-backend/internal/auth"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue and revoke chat tokens",
}

var (
	tokenIssueUser   string
	tokenIssueName   string
	tokenIssueTTL    time.Duration
	tokenIssueSecret string
	tokenIssueIssuer string
	tokenIssueConfig string
)

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Mint a signed token for a user",
	Long: `Mint a token the chat backend accepts. The signing secret comes from
--secret, CHAT_JWT_SECRET or the jwt section of --config, in that order.
Intended for development and testing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenIssueUser == "" {
			return fmt.Errorf("--user is required")
		}

		jwtCfg, err := issuerConfig()
		if err != nil {
			return err
		}

		token, err := auth.NewIssuer(jwtCfg).Issue(tokenIssueUser, tokenIssueName, tokenIssueTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func issuerConfig() (config.JWTConfig, error) {
	var jwtCfg config.JWTConfig
	if tokenIssueConfig != "" {
		cfg, err := config.Load(tokenIssueConfig)
		if err != nil {
			return jwtCfg, fmt.Errorf("failed to load configuration: %w", err)
		}
		jwtCfg = cfg.JWT
	}
	if secret := os.Getenv("CHAT_JWT_SECRET"); secret != "" {
		jwtCfg.Secret = secret
	}
	if tokenIssueSecret != "" {
		jwtCfg.Secret = tokenIssueSecret
	}
	if tokenIssueIssuer != "" {
		jwtCfg.Issuer = tokenIssueIssuer
	}
	if jwtCfg.Secret == "" {
		return jwtCfg, fmt.Errorf("a signing secret is required (--secret, CHAT_JWT_SECRET or --config)")
	}
	return jwtCfg, nil
}

var (
	tokenRevokeJTI     string
	tokenRevokeExpires string
	tokenRevokeToken   string
)

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke an issued token",
	Long: `Revoke a token on the running server, either by passing the token
itself with --jwt, or its id with --jti and its expiry with --expires (RFC 3339).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var req api.RevokeTokenRequest
		switch {
		case tokenRevokeToken != "":
			req.Token = tokenRevokeToken
		case tokenRevokeJTI != "":
			expires, err := time.Parse(time.RFC3339, tokenRevokeExpires)
			if err != nil {
				return fmt.Errorf("--expires must be an RFC 3339 timestamp: %w", err)
			}
			req.JTI = tokenRevokeJTI
			req.ExpiresAt = expires
		default:
			return fmt.Errorf("either --jwt or --jti is required")
		}

		resp, err := newClient().RevokeToken(cmd.Context(), req)
		if err != nil {
			return err
		}
		return render(cmd, resp, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "Revoked token %s until %s\n", resp.Revoked, formatTime(resp.ExpiresAt))
			return err
		})
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenIssueUser, "user", "", "User ID (required)")
	tokenIssueCmd.Flags().StringVar(&tokenIssueName, "name", "", "Display name")
	tokenIssueCmd.Flags().DurationVar(&tokenIssueTTL, "ttl", 24*time.Hour, "Token lifetime")
	tokenIssueCmd.Flags().StringVar(&tokenIssueSecret, "secret", "", "Signing secret")
	tokenIssueCmd.Flags().StringVar(&tokenIssueIssuer, "issuer", "", "Issuer claim")
	tokenIssueCmd.Flags().StringVar(&tokenIssueConfig, "config", "", "Server configuration file")

	tokenRevokeCmd.Flags().StringVar(&tokenRevokeToken, "jwt", "", "Token to revoke")
	tokenRevokeCmd.Flags().StringVar(&tokenRevokeJTI, "jti", "", "Token ID to revoke")
	tokenRevokeCmd.Flags().StringVar(&tokenRevokeExpires, "expires", "", "Token expiry, RFC 3339")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
	rootCmd.AddCommand(tokenCmd)
}
