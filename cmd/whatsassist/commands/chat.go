package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/assistant"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/delivery"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/links"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/notifier"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/queue"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/reminders"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/scheduler"
	"github.com/spf13/cobra"
)

// newChatCmd creates `whatsassist chat`, a local console that talks to the
// assistant as if messages came from WhatsApp.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long: `Send messages to the assistant locally. Reminders created here fire in
this process and are printed instead of sent.

Examples:
  whatsassist chat "remind me at 7pm to call mom"
  whatsassist chat  # interactive mode`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
	cmd.Flags().String("as", "console:local", "sender handle used for messages")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, stderrLogs)
	if err != nil {
		return err
	}
	from, _ := cmd.Flags().GetString("as")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	store := reminders.NewSQLStore(db)

	if len(args) == 1 {
		svc := reminders.NewService(store, nil, a.logger, reminders.WithClock(a.clock))
		bot := assistant.New(svc, links.NewStore(db), a.location, a.logger)
		fmt.Fprintln(cmd.OutOrStdout(), bot.Handle(ctx, from, args[0]))
		return nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(filepath.Dir(a.cfg.Database.SQLite.Path), ".chat_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting console: %w", err)
	}
	defer rl.Close()
	out := rl.Stdout()

	// Reminders created in this session fire here. Without a source the
	// scheduler never arms reminders that belong to a running server.
	q := queue.NewMemory(16, a.logger)
	defer q.Close()

	printer := notifier.NewLog(a.logger, func(recipient, text string) {
		fmt.Fprintf(out, "\nbot> %s\n", text)
		rl.Refresh()
	})
	dispatcher := delivery.New(store, printer, a.logger)
	go func() { _ = dispatcher.Run(ctx, q) }()

	sched := scheduler.New(nil, q, a.logger,
		scheduler.WithClock(a.clock),
		scheduler.WithLocation(a.location),
	)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	svc := reminders.NewService(store, sched, a.logger, reminders.WithClock(a.clock))
	bot := assistant.New(svc, links.NewStore(db), a.location, a.logger)

	fmt.Fprintf(out, "Chatting as %s. Type 'exit' or press Ctrl+D to quit.\n", from)
	fmt.Fprintf(out, "bot> %s\n", assistant.Greeting)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		fmt.Fprintf(out, "bot> %s\n", bot.Handle(ctx, from, line))
	}
}
