package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "alertctl",
	Short: "Operator tools for the alert trade router",
	Long: `alertctl works with the alert trade router from the command line.

It can:
  - Parse alert text offline and show the resulting instruction
  - Publish alerts to the router's Kafka topic
  - Query the alert journal
  - Write the default index and keyword tables for editing`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
