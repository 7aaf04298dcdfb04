// Doorvox is the local pipeline daemon for voice-driven door surveys.
//
// It exposes an HTTP API the field app drives: upload a recorded
// walkthrough, run the transcription/extraction pass, review and edit
// the merged door list, and sync it to the estimate backend with retry
// and backoff tuned for bad connectivity.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides the default config file location.
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "doorvox",
	Short:   "Voice-to-door-list pipeline daemon",
	Long:    `doorvox runs the local capture-to-backend pipeline for door surveys: recording upload, remote transcription and extraction, merge into the estimate's canonical door list, and resilient sync.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/doorvox/config.yaml)")
	rootCmd.AddCommand(serveCmd)
}
