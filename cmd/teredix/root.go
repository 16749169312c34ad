package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "teredix",
		Short: "Infrastructure resource discovery",
		Long: `terediX - infrastructure resource discovery

terediX scans file systems, GitHub and AWS on a schedule, stores every
resource it finds and infers relations between them from configured rules.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
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
	rootCmd.SetVersionTemplate(`terediX {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to the YAML config file")
}
