// Package main provides the chat-admin CLI tool for managing the chat backend.
package main

import (
	"os"

	"github.com/sirosfoundation/go-chat-backend/cmd/chat-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
