package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gw/options-chain/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Load configuration from the environment and .env, validate it and print
the result as JSON. Secrets are masked.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	masked := *cfg
	if masked.Redis.Password != "" {
		masked.Redis.Password = "****"
	}
	if masked.Sentry.DSN != "" {
		masked.Sentry.DSN = "****"
	}

	out, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
