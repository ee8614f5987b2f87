package cmd

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "actionhub",
	Short: "Action hub for Looker-triggered audience exports",
	Long: `actionhub receives Looker action webhooks and exports report data to
the configured destinations: SFTP drops, Adform DMP segments, and Google Ads
customer match lists. Every accepted delivery is audited in BigQuery.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
