package cli

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/erilali/chatrelay/internal/client"
)

var clientFlags struct {
	addr     string
	username string
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Chat from the terminal over the TCP line protocol",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		conn, err := client.Dial(ctx, clientFlags.addr)
		if err != nil {
			return err
		}
		return client.Run(ctx, conn, clientFlags.username, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	clientCmd.Flags().StringVarP(&clientFlags.addr, "addr", "a", "127.0.0.1:8080", "server address")
	clientCmd.Flags().StringVarP(&clientFlags.username, "username", "u", "", "name to join with")
	clientCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(clientCmd)
}
