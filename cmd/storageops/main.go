package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/permitportal/storageops/cmd/storageops/commands"
	"github.com/permitportal/storageops/internal/config"
	"github.com/permitportal/storageops/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development; real deployments use the process
	// environment.
	_ = godotenv.Load()

	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "storageops",
		Short: "Credential rotation and virus-scan lifecycle for object storage",
		Long: `storageops keeps the platform's object-storage clients authenticated
against externally rotated credentials, and drives the virus-scan
lifecycle for uploaded documents.

All subcommands are designed to run as independently scheduled jobs.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "storageops.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewRefreshCommand(cfg),
		commands.NewHealthCommand(cfg),
		commands.NewStatusCommand(cfg),
		commands.NewScanCommand(cfg),
		commands.NewPendingCommand(cfg),
		commands.NewSweepCommand(cfg),
		commands.NewServeMetricsCommand(cfg),
	)

	return rootCmd.Execute()
}
