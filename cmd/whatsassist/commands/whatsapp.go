package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/notifier"
	"github.com/spf13/cobra"
)

// newWhatsAppCmd creates `whatsassist whatsapp`.
func newWhatsAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whatsapp",
		Short: "Manage the linked WhatsApp device",
	}

	link := &cobra.Command{
		Use:   "link",
		Short: "Pair a WhatsApp device by QR code",
		Long: `Pair the whatsmeow session used when notifier.whatsapp is "whatsmeow".
Each QR code is printed as text; render it with any QR tool (for example
'qrencode -t ansiutf8') and scan it from WhatsApp > Linked devices.`,
		Args: cobra.NoArgs,
		RunE: runWhatsAppLink,
	}
	link.Flags().Duration("timeout", 3*time.Minute, "give up after this long")

	cmd.AddCommand(link)
	return cmd
}

func runWhatsAppLink(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd, stderrLogs)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	wa := notifier.NewWhatsApp(a.cfg.Notifier.Whatsmeow, a.logger)
	defer wa.Close()

	out := cmd.OutOrStdout()
	err = wa.Link(ctx, func(code string) {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Scan this code from WhatsApp > Linked devices:")
		fmt.Fprintln(out, code)
	})
	if err != nil {
		return fmt.Errorf("linking whatsapp: %w", err)
	}

	fmt.Fprintf(out, "WhatsApp linked. Session stored at %s\n", a.cfg.Notifier.Whatsmeow.SessionPath)
	return nil
}
