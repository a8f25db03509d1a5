package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erilali/chatrelay/internal/api"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of chatrelay",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "chatrelay %s\n", api.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
