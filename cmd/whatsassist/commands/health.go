package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates `whatsassist health`, which queries a running server.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}
	cmd.Flags().String("url", "", "server base URL (default from webhook.address)")
	return cmd
}

func runHealth(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd, stderrLogs)
	if err != nil {
		return err
	}

	base, _ := cmd.Flags().GetString("url")
	if base == "" {
		base = localURL(a.cfg.Webhook.Address)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status         string `json:"status"`
		ArmedReminders int    `json:"armed_reminders"`
		Uptime         string `json:"uptime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: %s (HTTP %d)", health.Status, resp.StatusCode)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "status: %s\narmed reminders: %d\nuptime: %s\n",
		health.Status, health.ArmedReminders, health.Uptime)
	return nil
}

// localURL turns a listen address into a loopback URL.
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
