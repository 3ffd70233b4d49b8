package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// DiscordConfig configures the Discord bot backend.
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// discordSession is the part of discordgo.Session used for direct messages.
type discordSession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord sends reminders as direct messages from a bot. Recipients are
// "discord:<user id>".
type Discord struct {
	session discordSession
	logger  *slog.Logger
}

// NewDiscord creates a REST-only bot session; no gateway connection is
// needed to send direct messages.
func NewDiscord(cfg DiscordConfig, logger *slog.Logger) (*Discord, error) {
	if cfg.Token == "" {
		return nil, ErrNotConfigured
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: creating session: %w", err)
	}
	return newDiscord(session, logger), nil
}

func newDiscord(session discordSession, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{session: session, logger: logger.With("component", "discord")}
}

// Deliver implements Notifier.
func (d *Discord) Deliver(ctx context.Context, recipient, text string) (string, error) {
	userID := Address(recipient)
	if userID == "" || digitsOnly(userID) != userID {
		return "", &DeliveryError{Recipient: recipient, Backend: "discord", Err: ErrInvalidRecipient}
	}

	opt := discordgo.WithContext(ctx)
	ch, err := d.session.UserChannelCreate(userID, opt)
	if err != nil {
		return "", &DeliveryError{Recipient: recipient, Backend: "discord", Err: fmt.Errorf("opening DM channel: %w", err)}
	}

	msg, err := d.session.ChannelMessageSend(ch.ID, text, opt)
	if err != nil {
		return "", &DeliveryError{Recipient: recipient, Backend: "discord", Err: err}
	}

	d.logger.Info("message sent", "user", userID, "message_id", msg.ID)
	return msg.ID, nil
}
