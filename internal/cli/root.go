// Package cli wires the chatrelay commands together.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatrelay",
	Short: "Multi-client real-time chat relay",
	Long: `chatrelay is a broadcast chat server speaking newline-delimited JSON over
TCP and WebSocket.

Available commands:
  serve     Run the chat server
  client    Connect to a server from the terminal
  version   Print the version

Use "chatrelay [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
