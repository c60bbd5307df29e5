package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lhartmann/kedis/cmd/cli"
	"github.com/lhartmann/kedis/cmd/serve"
)

const (
	Version = "0.3.1"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kedis",
		Short: "in-memory key-value server",
		Long: fmt.Sprintf(`kedis (v%s)

An in-memory key-value server speaking a framed binary protocol,
with per-key TTLs and sorted sets over a single-owner store loop.`, Version),
		// bare "kedis" serves with the default configuration
		RunE: func(cmd *cobra.Command, args []string) error {
			// parse an empty argument list so the serve flags (and their
			// defaults) are merged into the set that PreRunE binds
			if err := serve.ServeCmd.ParseFlags(nil); err != nil {
				return err
			}
			if err := serve.ServeCmd.PreRunE(serve.ServeCmd, args); err != nil {
				return err
			}
			return serve.ServeCmd.RunE(serve.ServeCmd, args)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kedis",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kedis v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(cli.ClientCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
