package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/config"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/queue"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates `whatsassist config`.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create config.yaml with an interactive wizard",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
	initCmd.Flags().StringP("output", "o", "config.yaml", "file to write")
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (secrets masked)",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	output, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", output)
	}

	cfg := config.DefaultConfig()
	if tz := os.Getenv("TZ"); tz != "" {
		cfg.Timezone = tz
	}
	var (
		twilioToken string
		storeToken  = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Value(&cfg.Name),
			huh.NewInput().
				Title("Timezone").
				Description("IANA name used to resolve reminder times, e.g. America/Sao_Paulo").
				Value(&cfg.Timezone).
				Validate(validateTimezone),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How should WhatsApp messages be sent?").
				Options(
					huh.NewOption("Twilio WhatsApp API", config.WhatsAppViaTwilio),
					huh.NewOption("Linked WhatsApp device (whatsmeow)", config.WhatsAppViaWhatsmeow),
					huh.NewOption("Log only (dry run)", config.WhatsAppViaLog),
				).
				Value(&cfg.Notifier.WhatsApp),
			huh.NewSelect[string]().
				Title("Fired reminder queue").
				Options(
					huh.NewOption("In memory", queue.BackendMemory),
					huh.NewOption("RabbitMQ", queue.BackendAMQP),
					huh.NewOption("Redis", queue.BackendRedis),
				).
				Value(&cfg.Queue.Backend),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Twilio account SID").
				Value(&cfg.Notifier.Twilio.AccountSID),
			huh.NewInput().
				Title("Twilio WhatsApp number").
				Placeholder("+14155238886").
				Value(&cfg.Notifier.Twilio.From),
			huh.NewInput().
				Title("Twilio auth token").
				EchoMode(huh.EchoModePassword).
				Value(&twilioToken),
			huh.NewConfirm().
				Title("Store the auth token in the OS keyring?").
				Value(&storeToken),
		).WithHideFunc(func() bool { return cfg.Notifier.WhatsApp != config.WhatsAppViaTwilio }),
		huh.NewGroup(
			huh.NewInput().
				Title("Webhook listen address").
				Value(&cfg.Webhook.Address),
			huh.NewInput().
				Title("Public webhook URL (optional)").
				Description("Used to validate Twilio signatures behind a proxy").
				Value(&cfg.Webhook.PublicURL),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		return err
	}

	if twilioToken != "" {
		if storeToken && config.KeyringAvailable() {
			if err := config.StoreKeyring(config.SecretTwilioAuthToken, twilioToken); err != nil {
				return fmt.Errorf("storing auth token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Twilio auth token stored in the OS keyring.")
		} else {
			cfg.Notifier.Twilio.AuthToken = "${" + config.EnvTwilioAuthToken + "}"
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s in the environment or .env before running serve.\n",
				config.EnvTwilioAuthToken)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveConfigToFile(cfg, output); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", output)
	return nil
}

func validateTimezone(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := time.LoadLocation(s); err != nil {
		return fmt.Errorf("unknown timezone %q", s)
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd, stderrLogs)
	if err != nil {
		return err
	}

	masked := *a.cfg
	masked.Notifier.Twilio.AuthToken = mask(masked.Notifier.Twilio.AuthToken)
	masked.Notifier.Discord.Token = mask(masked.Notifier.Discord.Token)
	masked.Database.PostgreSQL.Password = mask(masked.Database.PostgreSQL.Password)
	masked.Queue.Redis.Password = mask(masked.Queue.Redis.Password)

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	if a.configPath != "" {
		fmt.Fprintf(out, "# %s\n", a.configPath)
	} else {
		fmt.Fprintln(out, "# defaults (no config file found)")
	}
	_, err = out.Write(data)
	return err
}

// mask hides all but the last four characters of a secret.
func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
