package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/assistant"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/config"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/delivery"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/links"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/queue"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/reminders"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/scheduler"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/webhook"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `whatsassist serve` command that runs the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, scheduler and delivery worker",
		Long: `Start WhatsAssist as a daemon: serve the Twilio webhook, arm pending
reminders and deliver them when they fire.

Examples:
  whatsassist serve
  whatsassist serve --dry-run
  whatsassist serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().Bool("dry-run", false, "log outbound messages instead of sending them")
	cmd.Flags().String("addr", "", "webhook listen address (overrides webhook.address)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd, os.Stdout)
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		cfg.Notifier.WhatsApp = config.WhatsAppViaLog
		cfg.Notifier.Discord.Token = ""
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Webhook.Address = addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ──
	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	store := reminders.NewSQLStore(db)

	// ── Delivery ──
	router, closeNotifier, err := a.buildNotifier(ctx)
	if err != nil {
		return err
	}
	defer closeNotifier()

	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	dispatcher := delivery.New(store, router, logger,
		delivery.WithSendTimeout(cfg.Scheduler.SendTimeout),
	)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Run(ctx, q); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, queue.ErrClosed) {
			logger.Error("dispatcher stopped with error", "error", err)
		}
	}()

	// ── Scheduler ──
	sched := scheduler.New(scheduler.FromStore(store), q, logger,
		scheduler.WithClock(a.clock),
		scheduler.WithLocation(a.location),
		scheduler.WithMisfireGrace(cfg.Scheduler.MisfireGrace),
		scheduler.WithResyncInterval(cfg.Scheduler.ResyncInterval),
	)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	// ── Assistant + webhook ──
	svc := reminders.NewService(store, sched, logger, reminders.WithClock(a.clock))
	bot := assistant.New(svc, links.NewStore(db), a.location, logger)
	server := webhook.New(cfg.Webhook, bot, sched, logger)
	if err := server.Start(ctx); err != nil {
		sched.Stop()
		return err
	}

	logger.Info("whatsassist running",
		"name", cfg.Name,
		"timezone", a.location.String(),
		"queue", cfg.Queue.Backend,
		"database", cfg.Database.Backend,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	timeout := cfg.Webhook.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	done := make(chan struct{})
	go func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("webhook shutdown", "error", err)
		}
		sched.Stop()
		drainQueue(shutdownCtx, q, dispatcherDone, cancel, logger)
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(timeout + 5*time.Second):
		logger.Warn("shutdown timed out, forcing exit", "timeout", (timeout + 5*time.Second).String())
	}
	return nil
}

// drainQueue closes q so the dispatcher finishes events that are still
// buffered, then cancels the dispatcher context. It waits for the
// dispatcher until ctx expires.
func drainQueue(ctx context.Context, q io.Closer, dispatcherDone <-chan struct{}, cancel context.CancelFunc, logger *slog.Logger) {
	if err := q.Close(); err != nil {
		logger.Warn("queue close", "error", err)
	}
	select {
	case <-dispatcherDone:
	case <-ctx.Done():
		logger.Warn("dispatcher still busy, cancelling")
	}
	cancel()
	<-dispatcherDone
}
