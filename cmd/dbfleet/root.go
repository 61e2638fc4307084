package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "dbfleet",
		Short: "Managed Database Fleet Engine",
		Long: `dbfleet - Managed Database Fleet Engine

dbfleet discovers managed database instances across AWS accounts and
regions, keeps an inventory cache with explicit staleness, and
dispatches lifecycle operations to an executor service with fallback
behavior when downstreams are unavailable.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`dbfleet {{.Version}} - Managed Database Fleet Engine
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "dbfleet.yaml", "Path to configuration file")
}
