// Package config loads the WhatsAssist configuration: a YAML file overlaid on
// defaults, with .env loading, environment expansion and keyring secrets.
package config

import (
	"fmt"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/database"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/notifier"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/queue"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/webhook"
)

// WhatsApp delivery backends.
const (
	WhatsAppViaTwilio    = "twilio"
	WhatsAppViaWhatsmeow = "whatsmeow"
	WhatsAppViaLog       = "log"
)

// Config is the root configuration.
type Config struct {
	// Name is the assistant name shown in logs.
	Name string `yaml:"name"`

	// Timezone is an IANA zone name (e.g. "America/Sao_Paulo"). It defines
	// the wall clock used to resolve and fire reminders. Empty means local.
	Timezone string `yaml:"timezone"`

	Logging   LoggingConfig   `yaml:"logging"`
	Database  database.Config `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Queue     queue.Config    `yaml:"queue"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Webhook   webhook.Config  `yaml:"webhook"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format: text or json.
	Format string `yaml:"format"`
}

// SchedulerConfig tunes the reminder scheduler.
type SchedulerConfig struct {
	// MisfireGrace is how late a reminder may still fire after a restart.
	MisfireGrace time.Duration `yaml:"misfire_grace"`

	// ResyncInterval re-reads pending reminders from the store so reminders
	// created by other processes get armed. Zero disables it.
	ResyncInterval time.Duration `yaml:"resync_interval"`

	// SendTimeout bounds a single notifier call.
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// NotifierConfig selects the delivery backends.
type NotifierConfig struct {
	// WhatsApp chooses how "whatsapp:" recipients are reached: twilio,
	// whatsmeow or log.
	WhatsApp string `yaml:"whatsapp"`

	Twilio    notifier.TwilioConfig   `yaml:"twilio"`
	Whatsmeow notifier.WhatsAppConfig `yaml:"whatsmeow"`
	Discord   notifier.DiscordConfig  `yaml:"discord"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Name: "WhatsAssist",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Database: database.DefaultConfig(),
		Scheduler: SchedulerConfig{
			MisfireGrace:   time.Second,
			ResyncInterval: 30 * time.Second,
			SendTimeout:    30 * time.Second,
		},
		Queue: queue.DefaultConfig(),
		Notifier: NotifierConfig{
			WhatsApp: WhatsAppViaTwilio,
			Whatsmeow: notifier.WhatsAppConfig{
				SessionPath: "./data/whatsapp.db",
				DeviceName:  "WhatsAssist",
			},
		},
		Webhook: webhook.DefaultConfig(),
	}
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Clock returns the wall clock in the configured timezone. Resolver and
// scheduler must share it.
func (c *Config) Clock() (func() time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return func() time.Time { return time.Now().In(loc) }, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Notifier.WhatsApp {
	case WhatsAppViaTwilio, WhatsAppViaWhatsmeow, WhatsAppViaLog:
	default:
		return fmt.Errorf("notifier.whatsapp: unknown backend %q", c.Notifier.WhatsApp)
	}
	switch c.Queue.Backend {
	case "", queue.BackendMemory, queue.BackendAMQP, queue.BackendRedis:
	default:
		return fmt.Errorf("queue.backend: unknown backend %q", c.Queue.Backend)
	}
	switch c.Database.Backend {
	case "", database.BackendSQLite, database.BackendPostgreSQL:
	default:
		return fmt.Errorf("database.backend: unknown backend %q", c.Database.Backend)
	}
	if c.Scheduler.MisfireGrace < 0 || c.Scheduler.ResyncInterval < 0 {
		return fmt.Errorf("scheduler: durations must not be negative")
	}
	return nil
}
