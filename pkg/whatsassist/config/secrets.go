package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "whatsassist"

// Secret names, used as keyring keys.
const (
	SecretTwilioAuthToken = "twilio_auth_token"
	SecretDiscordToken    = "discord_token"
)

// Environment variables consulted for secrets and credentials.
const (
	EnvTwilioAuthToken  = "TWILIO_AUTH_TOKEN"
	EnvTwilioAccountSID = "TWILIO_ACCOUNT_SID"
	EnvTwilioFrom       = "TWILIO_WHATSAPP_NUMBER"
	EnvDiscordToken     = "DISCORD_BOT_TOKEN"
)

// ErrUnknownSecret is returned for names other than the Secret constants.
var ErrUnknownSecret = errors.New("unknown secret")

// secretEnv maps keyring names to their environment variables.
var secretEnv = map[string]string{
	SecretTwilioAuthToken: EnvTwilioAuthToken,
	SecretDiscordToken:    EnvDiscordToken,
}

// SecretNames lists the secrets that can be stored in the keyring.
func SecretNames() []string {
	return []string{SecretTwilioAuthToken, SecretDiscordToken}
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(name, value string) error {
	if _, ok := secretEnv[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSecret, name)
	}
	return keyring.Set(keyringService, name, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" if absent.
func GetKeyring(name string) string {
	val, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(name string) error {
	if _, ok := secretEnv[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSecret, name)
	}
	err := keyring.Delete(keyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__whatsassist_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets fills credentials in priority order: keyring, environment,
// then the value already in the config file. The webhook validates
// signatures with the Twilio auth token.
func ResolveSecrets(cfg *Config) {
	cfg.Notifier.Twilio.AuthToken = resolveSecret(SecretTwilioAuthToken, cfg.Notifier.Twilio.AuthToken)
	cfg.Notifier.Discord.Token = resolveSecret(SecretDiscordToken, cfg.Notifier.Discord.Token)

	if cfg.Notifier.Twilio.AccountSID == "" {
		cfg.Notifier.Twilio.AccountSID = os.Getenv(EnvTwilioAccountSID)
	}
	if cfg.Notifier.Twilio.From == "" {
		cfg.Notifier.Twilio.From = os.Getenv(EnvTwilioFrom)
	}
	if cfg.Webhook.AuthToken == "" {
		cfg.Webhook.AuthToken = cfg.Notifier.Twilio.AuthToken
	}
}

func resolveSecret(name, fromFile string) string {
	if v := GetKeyring(name); v != "" {
		return v
	}
	if v := os.Getenv(secretEnv[name]); v != "" {
		return v
	}
	if IsEnvReference(fromFile) {
		return ""
	}
	return fromFile
}

// ReadPassword prompts on stdout and reads a line without echo. Piped input
// falls back to a plain read.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimSpace(string(password)), nil
	}

	var buf [1024]byte
	n, err := os.Stdin.Read(buf[:])
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}
