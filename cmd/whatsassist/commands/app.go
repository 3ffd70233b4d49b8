package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/config"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/database"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/notifier"
	"github.com/spf13/cobra"
)

// app carries what every command needs: configuration, logger and the
// shared wall clock.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	location   *time.Location
	clock      func() time.Time
}

// loadApp resolves the config from --config or the default candidates and
// builds the logger. Logs go to logOut.
func loadApp(cmd *cobra.Command, logOut io.Writer) (*app, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	cfg, path, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := cfg.Logging.NewLogger(logOut, verbose)
	if path != "" {
		logger.Debug("config loaded", "path", path)
	} else {
		logger.Debug("no config file found, using defaults")
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clock, err := cfg.Clock()
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		location:   loc,
		clock:      clock,
	}, nil
}

// openDB opens the database. Pending migrations are applied on open.
func (a *app) openDB() (*database.DB, error) {
	return database.Open(a.cfg.Database, a.logger)
}

// buildNotifier wires the configured delivery backends into a router. The
// returned cleanup disconnects long-lived sessions.
func (a *app) buildNotifier(ctx context.Context) (*notifier.Router, func(), error) {
	router := notifier.NewRouter(a.logger)
	cleanup := func() {}

	var wa notifier.Notifier
	switch a.cfg.Notifier.WhatsApp {
	case config.WhatsAppViaTwilio:
		twCfg := a.cfg.Notifier.Twilio
		if twCfg.Timeout <= 0 {
			twCfg.Timeout = a.cfg.Scheduler.SendTimeout
		}
		tw, err := notifier.NewTwilio(twCfg, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("twilio notifier: %w (set notifier.twilio or %s/%s)",
				err, config.EnvTwilioAccountSID, config.EnvTwilioAuthToken)
		}
		wa = tw
	case config.WhatsAppViaWhatsmeow:
		client := notifier.NewWhatsApp(a.cfg.Notifier.Whatsmeow, a.logger)
		if err := client.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("whatsapp notifier: %w", err)
		}
		cleanup = client.Close
		wa = client
	default:
		wa = notifier.NewLog(a.logger, nil)
	}
	router.Handle("whatsapp", wa)
	router.SetFallback(wa)

	if a.cfg.Notifier.Discord.Token != "" {
		dc, err := notifier.NewDiscord(a.cfg.Notifier.Discord, a.logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		router.Handle("discord", dc)
	}

	a.logger.Info("notifier ready",
		"whatsapp", a.cfg.Notifier.WhatsApp,
		"channels", router.Channels(),
	)
	return router, cleanup, nil
}

// stderrLogs is where commands with user-facing stdout write their logs.
var stderrLogs io.Writer = os.Stderr
