// Package commands implements the WhatsAssist CLI commands with cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "whatsassist",
		Short: "WhatsAssist - WhatsApp personal assistant",
		Long: `WhatsAssist is a WhatsApp personal assistant that schedules reminders
and saves links from chat messages.

Examples:
  whatsassist serve
  whatsassist remind 7pm "call mom" --to whatsapp:+5511999999999
  whatsassist reminders list
  whatsassist resolve "tomorrow at 9am"
  whatsassist chat`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newRemindCmd(),
		newRemindersCmd(),
		newResolveCmd(),
		newChatCmd(),
		newConfigCmd(),
		newSecretsCmd(),
		newWhatsAppCmd(),
		newMigrateCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
