package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chainserver",
	Short: "Options chain snapshot and order service",
	Long: `chainserver polls a brokerage gateway for one underlying's near-term
options chain, keeps the latest snapshot in memory and pushes it to
subscribers. It also places single, combo and bracket orders.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
