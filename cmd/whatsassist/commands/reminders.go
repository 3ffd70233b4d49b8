package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/reminders"
	"github.com/spf13/cobra"
)

// listLayout renders fire times in CLI tables.
const listLayout = "2006-01-02 15:04 MST"

// newRemindCmd creates `whatsassist remind <time> <task...>`.
func newRemindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind <time> <task...>",
		Short: "Create a reminder",
		Long: `Create a reminder in the store. A running 'whatsassist serve' arms it on
its next resync.

Examples:
  whatsassist remind 7pm "call mom" --to whatsapp:+5511999999999
  whatsassist remind "tomorrow at 9am" standup --to discord:123456789`,
		Args: cobra.MinimumNArgs(2),
		RunE: runRemind,
	}
	cmd.Flags().String("to", "", "recipient handle (e.g. whatsapp:+5511999999999)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runRemind(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, stderrLogs)
	if err != nil {
		return err
	}
	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	to, _ := cmd.Flags().GetString("to")
	svc := reminders.NewService(reminders.NewSQLStore(db), nil, a.logger, reminders.WithClock(a.clock))

	r, err := svc.Create(cmd.Context(), to, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return errors.New(reminders.ErrorReply(args[0], err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Reminder #%d for %s: %q at %s\n",
		r.ID, r.UserID, r.Task, r.FireAt.In(a.location).Format(listLayout))
	return nil
}

// newRemindersCmd creates `whatsassist reminders`.
func newRemindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reminders",
		Aliases: []string{"reminder"},
		Short:   "Inspect reminders",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending reminders",
		Args:  cobra.NoArgs,
		RunE:  runRemindersList,
	}
	list.Flags().String("user", "", "only this recipient's reminders")
	list.Flags().Bool("json", false, "print JSON")

	cmd.AddCommand(list)
	return cmd
}

func runRemindersList(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd, stderrLogs)
	if err != nil {
		return err
	}
	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	store := reminders.NewSQLStore(db)
	user, _ := cmd.Flags().GetString("user")

	var list []*reminders.Reminder
	if user != "" {
		list, err = store.ListPendingByUser(cmd.Context(), user)
	} else {
		list, err = store.ListPending(cmd.Context(), nil)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No pending reminders.")
		return nil
	}

	now := a.clock()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tFIRE AT\tIN\tTASK")
	for _, r := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.UserID, r.FireAt.In(a.location).Format(listLayout),
			until(r.FireAt, now), r.Task)
	}
	return w.Flush()
}

// until renders the time left before t, or "overdue".
func until(t, now time.Time) string {
	d := t.Sub(now)
	if d <= 0 {
		return "overdue"
	}
	return d.Round(time.Minute).String()
}

// newResolveCmd creates `whatsassist resolve <time...>`.
func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <time...>",
		Short: "Show how a time expression resolves",
		Long: `Resolve a time expression against the configured clock without storing
anything.

Examples:
  whatsassist resolve 7pm
  whatsassist resolve 1830
  whatsassist resolve "in 2 hours"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, stderrLogs)
			if err != nil {
				return err
			}
			input := strings.Join(args, " ")
			now := a.clock()

			fireAt, err := reminders.NewResolver().Resolve(input, now)
			if err != nil {
				return errors.New(reminders.ErrorReply(input, err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  (in %s)\n",
				fireAt.Format(time.RFC3339), fireAt.Sub(now).Round(time.Second))
			return nil
		},
	}
}
