package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.
)

// ErrNotLinked is returned when no WhatsApp device session exists yet.
var ErrNotLinked = errors.New("whatsapp device not linked, run 'whatsassist whatsapp link'")

// WhatsAppConfig configures the WhatsApp Web backend.
type WhatsAppConfig struct {
	// SessionPath is the SQLite file holding the linked device session.
	SessionPath string `yaml:"session_path"`

	// DeviceName is shown in the phone's linked devices list.
	DeviceName string `yaml:"device_name"`
}

// waSender is the part of the whatsmeow client used for sending.
type waSender interface {
	IsConnected() bool
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

// WhatsApp sends messages from a linked WhatsApp Web device via whatsmeow.
type WhatsApp struct {
	cfg    WhatsAppConfig
	client *whatsmeow.Client
	sender waSender
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewWhatsApp creates an unconnected WhatsApp backend.
func NewWhatsApp(cfg WhatsAppConfig, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = "./data/whatsapp.db"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "WhatsAssist"
	}
	return &WhatsApp{
		cfg:    cfg,
		logger: logger.With("component", "whatsapp"),
	}
}

// Connect opens the session store and connects an already linked device.
func (w *WhatsApp) Connect(ctx context.Context) error {
	client, err := w.newClient(ctx)
	if err != nil {
		return err
	}
	if client.Store.ID == nil {
		return ErrNotLinked
	}

	client.EnableAutoReconnect = true
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	w.mu.Lock()
	w.client = client
	w.sender = client
	w.mu.Unlock()

	w.logger.Info("whatsapp connected", "jid", client.Store.ID.String())
	return nil
}

// Link pairs a new device, passing every QR code to onCode until the phone
// scans one. An already linked session returns immediately.
func (w *WhatsApp) Link(ctx context.Context, onCode func(code string)) error {
	client, err := w.newClient(ctx)
	if err != nil {
		return err
	}
	if client.Store.ID != nil {
		w.logger.Info("whatsapp already linked", "jid", client.Store.ID.String())
		return nil
	}

	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}
	defer client.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				onCode(evt.Code)
			case "success":
				w.logger.Info("whatsapp linked")
				return nil
			case "timeout":
				return fmt.Errorf("QR code timeout")
			default:
				if evt.Error != nil {
					return fmt.Errorf("QR login error: %w", evt.Error)
				}
			}
		}
	}
}

// Deliver implements Notifier.
func (w *WhatsApp) Deliver(ctx context.Context, recipient, text string) (string, error) {
	w.mu.RLock()
	sender := w.sender
	w.mu.RUnlock()

	if sender == nil || !sender.IsConnected() {
		return "", &DeliveryError{Recipient: recipient, Backend: "whatsapp", Err: ErrNotConnected}
	}

	jid, err := parseJID(Address(recipient))
	if err != nil {
		return "", &DeliveryError{Recipient: recipient, Backend: "whatsapp", Err: fmt.Errorf("%w: %v", ErrInvalidRecipient, err)}
	}

	resp, err := sender.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", &DeliveryError{Recipient: recipient, Backend: "whatsapp", Err: err}
	}

	w.logger.Info("message sent", "to", jid.String(), "id", resp.ID)
	return string(resp.ID), nil
}

// Close disconnects the client.
func (w *WhatsApp) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		w.client.Disconnect()
		w.client = nil
		w.sender = nil
	}
}

func (w *WhatsApp) newClient(ctx context.Context) (*whatsmeow.Client, error) {
	if err := os.MkdirAll(filepath.Dir(w.cfg.SessionPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.SessionPath),
		waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}

	device, err := getDevice(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("getting device: %w", err)
	}

	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})
	return whatsmeow.NewClient(device, waLog.Noop), nil
}

// getDevice retrieves the stored device or creates a new one.
func getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// parseJID accepts a full JID or a phone number in any formatting.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := digitsOnly(s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
