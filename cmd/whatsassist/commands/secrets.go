package commands

import (
	"fmt"
	"strings"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/config"
	"github.com/spf13/cobra"
)

// newSecretsCmd creates `whatsassist secrets`.
func newSecretsCmd() *cobra.Command {
	names := strings.Join(config.SecretNames(), ", ")

	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Store credentials in the OS keyring",
		Long: `Store credentials in the OS keyring instead of config.yaml.
Keyring values take precedence over environment variables and the file.

Secrets: ` + names,
	}

	set := &cobra.Command{
		Use:       "set <name>",
		Short:     "Prompt for a secret and store it",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.SecretNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available; use environment variables instead")
			}
			value, err := config.ReadPassword(fmt.Sprintf("%s: ", args[0]))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := config.StoreKeyring(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stored in the OS keyring.\n", args[0])
			return nil
		},
	}

	del := &cobra.Command{
		Use:       "delete <name>",
		Short:     "Remove a secret from the keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.SecretNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteKeyring(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed.\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}
