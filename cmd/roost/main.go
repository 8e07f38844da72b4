// Command roost runs the replication server, a demo client and the tools
// that go with them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:          "roost",
		Short:        "Roost replication server and related tools",
		SilenceUsage: true,
		RunE:         ServerCommand,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "./", "Path to the directory containing the config file")

	clientCmd.Flags().StringVarP(&AddressFlag, "address", "a", "", "Address of the server (defaults to client.server_address)")
	sessionsCmd.Flags().IntVarP(&LimitFlag, "limit", "n", 20, "Number of sessions to list")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(sessionsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
