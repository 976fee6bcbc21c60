// Package cmd contains all CLI commands for chat-admin.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	adminURL   string
	adminToken string
	output     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chat-admin",
	Short: "CLI tool for managing the chat backend",
	Long: `chat-admin is a command-line tool for operating the chat backend
through its admin API.

It provides commands for:
  - Status: Gateway and storage health
  - Rooms: List live rooms, inspect members, close rooms
  - Tokens: Mint development tokens and revoke issued ones

Examples:
  # List live rooms
  chat-admin room list

  # Disconnect everyone in a room
  chat-admin room close text lobby

  # Mint a token for local testing
  chat-admin token issue --user alice --secret dev-secret

Environment Variables:
  CHAT_ADMIN_URL    Base URL of the admin API (default: http://localhost:33255)
  CHAT_ADMIN_TOKEN  Bearer token for the admin API
  CHAT_JWT_SECRET   Secret used by "token issue"`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&adminURL, "url", "u", getEnvOrDefault("CHAT_ADMIN_URL", "http://localhost:33255"), "Admin API base URL")
	rootCmd.PersistentFlags().StringVarP(&adminToken, "token", "t", os.Getenv("CHAT_ADMIN_TOKEN"), "Admin API bearer token")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
}

func newClient() *Client {
	return NewClient(adminURL, adminToken)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
