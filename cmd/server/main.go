package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"medgate/internal/platform/config"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "medgate",
		Short:         "Clinical records API gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional config file (yaml, json or toml)")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(probeCmd(load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(tokenCmd(load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
