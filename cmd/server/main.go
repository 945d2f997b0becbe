package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"smartreply-crm/internal/config"
	"smartreply-crm/internal/logging"
)

var (
	envFile  string
	logLevel string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "smartreply",
		Short:         "SmartReply CRM backend",
		Long:          "SmartReply serves the WhatsApp CRM dashboard API, the Cloud API webhook and the broadcast scheduler.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default ./.env when present)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error, silent)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCreateAdminCmd())
	return cmd
}

// loadConfig reads the environment and builds the root logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, logging.New(nil, cfg.LogLevel), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
