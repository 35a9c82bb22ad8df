package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "grainweb",
	Short: "grainweb - a web-publishing grain",
	Long: `grainweb serves a static web application together with a small
per-grain file store. A host launches it with the RPC stream on an
inherited descriptor; each user session can read the application and,
with the write permission, upload files under var/.

Running grainweb without a subcommand is the same as "grainweb serve".`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to config file (default $XDG_CONFIG_HOME/grainweb/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(callCmd)
}
