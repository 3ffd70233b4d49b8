package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/database"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/queue"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("name: Bot\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Name != "Bot" {
		t.Errorf("expected name Bot, got %q", cfg.Name)
	}
	if cfg.Scheduler.MisfireGrace != time.Second {
		t.Errorf("expected default misfire grace 1s, got %s", cfg.Scheduler.MisfireGrace)
	}
	if cfg.Queue.Backend != queue.BackendMemory {
		t.Errorf("expected memory queue, got %q", cfg.Queue.Backend)
	}
	if cfg.Database.Backend != database.BackendSQLite {
		t.Errorf("expected sqlite, got %q", cfg.Database.Backend)
	}
	if !cfg.Webhook.RejectInvalidSignature {
		t.Error("expected signature rejection on by default")
	}
	if cfg.Notifier.WhatsApp != WhatsAppViaTwilio {
		t.Errorf("expected twilio delivery, got %q", cfg.Notifier.WhatsApp)
	}
}

func TestParseConfig_Overlay(t *testing.T) {
	data := `
timezone: America/Sao_Paulo
scheduler:
  misfire_grace: 5s
  resync_interval: 1m
queue:
  backend: redis
  redis:
    addr: redis:6379
webhook:
  address: ":9000"
  reject_invalid_signature: false
database:
  sqlite:
    path: /tmp/wa.db
`
	cfg, err := ParseConfig([]byte(data))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Timezone != "America/Sao_Paulo" {
		t.Errorf("timezone = %q", cfg.Timezone)
	}
	if cfg.Scheduler.MisfireGrace != 5*time.Second || cfg.Scheduler.ResyncInterval != time.Minute {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Queue.Backend != queue.BackendRedis || cfg.Queue.Redis.Addr != "redis:6379" {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Queue.Redis.Key != "whatsassist:reminders:fired" {
		t.Errorf("expected default redis key kept, got %q", cfg.Queue.Redis.Key)
	}
	if cfg.Webhook.Address != ":9000" || cfg.Webhook.RejectInvalidSignature {
		t.Errorf("webhook = %+v", cfg.Webhook)
	}
	if cfg.Database.SQLite.Path != "/tmp/wa.db" || cfg.Database.SQLite.JournalMode != "WAL" {
		t.Errorf("sqlite = %+v", cfg.Database.SQLite)
	}
}

func TestParseConfig_PartialSectionKeepsDefaults(t *testing.T) {
	for _, data := range []string{
		"webhook:\n  address: \":7000\"\n",
		"webhook:\n",
	} {
		cfg, err := ParseConfig([]byte(data))
		if err != nil {
			t.Fatalf("ParseConfig(%q): %v", data, err)
		}
		if !cfg.Webhook.RejectInvalidSignature {
			t.Errorf("ParseConfig(%q): signature check disabled without being set", data)
		}
	}
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	if _, err := ParseConfig([]byte("name: [unterminated")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("WA_SET", "value")
	t.Setenv("WA_EMPTY", "")

	tests := []struct {
		in   string
		want string
	}{
		{"${WA_SET}", "value"},
		{"$WA_SET", "value"},
		{"${WA_UNSET_X}", "${WA_UNSET_X}"},
		{"$WA_UNSET_X", "$WA_UNSET_X"},
		{"${WA_UNSET_X:-fallback}", "fallback"},
		{"${WA_SET:-fallback}", "value"},
		{"${WA_EMPTY:-fallback}", ""},
		{"a ${WA_SET} b", "a value b"},
		{"no refs", "no refs"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandEnvVarsWithValidation(t *testing.T) {
	t.Setenv("WA_SET", "value")

	got, err := expandEnvVarsWithValidation("token: ${WA_SET:?token required}")
	if err != nil || got != "token: value" {
		t.Fatalf("got %q, %v", got, err)
	}

	_, err = expandEnvVarsWithValidation("a: 1\ntoken: ${WA_MISSING_X:?token required}\nb: 2\n")
	if err == nil {
		t.Fatal("expected error for missing required variable")
	}
	if !strings.Contains(err.Error(), "WA_MISSING_X") || !strings.Contains(err.Error(), "token required") {
		t.Errorf("unexpected error: %v", err)
	}
	if strings.Contains(err.Error(), "b: 2") {
		t.Errorf("error leaks following lines: %v", err)
	}

	_, err = expandEnvVarsWithValidation("token: ${WA_MISSING_X:?}")
	if err == nil || !strings.Contains(err.Error(), "required environment variable not set") {
		t.Errorf("expected default message, got %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("WA_TEST_GRACE", "3s")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
timezone: ${WA_TEST_TZ_X:-UTC}
scheduler:
  misfire_grace: ${WA_TEST_GRACE}
database:
  sqlite:
    path: data/reminders.db
notifier:
  whatsmeow:
    session_path: /abs/session.db
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("timezone = %q", cfg.Timezone)
	}
	if cfg.Scheduler.MisfireGrace != 3*time.Second {
		t.Errorf("misfire grace = %s", cfg.Scheduler.MisfireGrace)
	}
	if want := filepath.Join(dir, "data", "reminders.db"); cfg.Database.SQLite.Path != want {
		t.Errorf("sqlite path = %q, want %q", cfg.Database.SQLite.Path, want)
	}
	if cfg.Notifier.Whatsmeow.SessionPath != "/abs/session.db" {
		t.Errorf("session path = %q", cfg.Notifier.Whatsmeow.SessionPath)
	}
}

func TestLoadConfigFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfigFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("timezone: Mars/Olympus_Mons\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFromFile(bad); err == nil {
		t.Error("expected error for unknown timezone")
	}

	backend := filepath.Join(dir, "backend.yaml")
	if err := os.WriteFile(backend, []byte("notifier:\n  whatsapp: pigeon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFromFile(backend); err == nil {
		t.Error("expected error for unknown notifier backend")
	}
}

func TestSaveConfigToFile(t *testing.T) {
	t.Setenv(EnvTwilioAuthToken, "tok-from-env")
	dir := t.TempDir()
	path := filepath.Join(dir, "configs", "config.yaml")

	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Notifier.Twilio.AuthToken = "tok-from-env"
	cfg.Notifier.Discord.Token = "literal"

	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigToFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600, got %o", perm)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "${"+EnvTwilioAuthToken+"}") {
		t.Errorf("expected env reference for twilio token:\n%s", data)
	}
	if strings.Contains(string(data), "tok-from-env") {
		t.Error("secret written in plain text")
	}

	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("expected backup file: %v", err)
	}

	loaded, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Timezone != "UTC" || loaded.Notifier.Twilio.AuthToken != "tok-from-env" {
		t.Errorf("reloaded config = %+v", loaded.Notifier.Twilio)
	}
	if loaded.Scheduler.ResyncInterval != cfg.Scheduler.ResyncInterval {
		t.Errorf("resync interval = %s", loaded.Scheduler.ResyncInterval)
	}
}

func TestResolveSecrets_Priority(t *testing.T) {
	t.Setenv(EnvTwilioAuthToken, "from-env")
	t.Setenv(EnvDiscordToken, "")
	t.Setenv(EnvTwilioAccountSID, "AC123")

	cfg := DefaultConfig()
	cfg.Notifier.Twilio.AuthToken = "from-file"
	cfg.Notifier.Discord.Token = "discord-file"
	ResolveSecrets(cfg)

	if cfg.Notifier.Twilio.AuthToken != "from-env" {
		t.Errorf("env should beat file, got %q", cfg.Notifier.Twilio.AuthToken)
	}
	if cfg.Notifier.Discord.Token != "discord-file" {
		t.Errorf("file value expected, got %q", cfg.Notifier.Discord.Token)
	}
	if cfg.Notifier.Twilio.AccountSID != "AC123" {
		t.Errorf("account sid = %q", cfg.Notifier.Twilio.AccountSID)
	}
	if cfg.Webhook.AuthToken != "from-env" {
		t.Errorf("webhook should validate with the twilio token, got %q", cfg.Webhook.AuthToken)
	}

	if err := StoreKeyring(SecretTwilioAuthToken, "from-keyring"); err != nil {
		t.Fatalf("StoreKeyring: %v", err)
	}
	defer DeleteKeyring(SecretTwilioAuthToken)

	cfg = DefaultConfig()
	ResolveSecrets(cfg)
	if cfg.Notifier.Twilio.AuthToken != "from-keyring" {
		t.Errorf("keyring should beat env, got %q", cfg.Notifier.Twilio.AuthToken)
	}
}

func TestResolveSecrets_UnexpandedReference(t *testing.T) {
	t.Setenv(EnvDiscordToken, "")

	cfg := DefaultConfig()
	cfg.Notifier.Discord.Token = "${SOME_UNSET_TOKEN}"
	ResolveSecrets(cfg)
	if cfg.Notifier.Discord.Token != "" {
		t.Errorf("unexpanded reference should resolve to empty, got %q", cfg.Notifier.Discord.Token)
	}
}

func TestKeyring(t *testing.T) {
	if !KeyringAvailable() {
		t.Fatal("mock keyring should be available")
	}
	if err := StoreKeyring("nope", "x"); !errors.Is(err, ErrUnknownSecret) {
		t.Errorf("expected ErrUnknownSecret, got %v", err)
	}
	if err := StoreKeyring(SecretDiscordToken, "abc"); err != nil {
		t.Fatal(err)
	}
	if got := GetKeyring(SecretDiscordToken); got != "abc" {
		t.Errorf("GetKeyring = %q", got)
	}
	if err := DeleteKeyring(SecretDiscordToken); err != nil {
		t.Fatal(err)
	}
	if err := DeleteKeyring(SecretDiscordToken); err != nil {
		t.Errorf("deleting a missing secret should succeed, got %v", err)
	}
	if got := GetKeyring(SecretDiscordToken); got != "" {
		t.Errorf("expected empty after delete, got %q", got)
	}
}

func TestLocationAndClock(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	if err != nil || loc != time.Local {
		t.Fatalf("empty timezone: %v, %v", loc, err)
	}

	cfg.Timezone = "UTC"
	clock, err := cfg.Clock()
	if err != nil {
		t.Fatal(err)
	}
	if clock().Location().String() != "UTC" {
		t.Errorf("clock location = %s", clock().Location())
	}

	cfg.Timezone = "Nowhere/Land"
	if _, err := cfg.Clock(); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"whatsmeow", func(c *Config) { c.Notifier.WhatsApp = WhatsAppViaWhatsmeow }, true},
		{"bad queue", func(c *Config) { c.Queue.Backend = "kafka" }, false},
		{"bad database", func(c *Config) { c.Database.Backend = "mysql" }, false},
		{"negative grace", func(c *Config) { c.Scheduler.MisfireGrace = -time.Second }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf, false)
	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if entry["msg"] != "shown" || entry["component"] != "test" {
		t.Errorf("unexpected entry %v", entry)
	}

	buf.Reset()
	LoggingConfig{Level: "error"}.NewLogger(&buf, true).Debug("verbose")
	if !strings.Contains(buf.String(), "msg=verbose") {
		t.Errorf("verbose should force debug text output, got %q", buf.String())
	}
}
