// Package cmd implements the tourguide command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tourguide",
	Short: "tourguide: agent dispatch core for the village tour guide",
	Long: `tourguide routes visitor requests between the guide agents:
the facade (A) picks a tool, the tool runner (B) calls it, and the
context keeper (D) tracks where the visitor is.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.tourguide/config.json)")
}
