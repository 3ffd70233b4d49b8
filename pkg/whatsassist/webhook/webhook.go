// Package webhook serves the Twilio WhatsApp webhook. Inbound messages are
// passed to a Responder and its reply is returned as TwiML.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
)

// apology is returned when the responder fails unexpectedly.
const apology = "Sorry, I encountered an error processing your message. Please try again."

// fallbackTwiML is written when TwiML rendering itself fails.
const fallbackTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response><Message>` + apology + `</Message></Response>`

// Config configures the webhook server.
type Config struct {
	// Address is the listen address (e.g. ":8081").
	Address string `yaml:"address"`

	// PublicURL overrides the scheme and host used to validate Twilio
	// signatures (e.g. "https://bot.example.com"), for deployments behind
	// proxies that do not set X-Forwarded-* headers.
	PublicURL string `yaml:"public_url"`

	// AuthToken is the Twilio auth token. When empty, signatures are not
	// checked.
	AuthToken string `yaml:"-"`

	// RejectInvalidSignature answers 403 to requests with a bad signature.
	// When false they are logged and processed anyway.
	RejectInvalidSignature bool `yaml:"reject_invalid_signature"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the default webhook configuration.
func DefaultConfig() Config {
	return Config{
		Address:                ":8081",
		RejectInvalidSignature: true,
		ShutdownTimeout:        10 * time.Second,
	}
}

// Responder produces the reply to an inbound message.
type Responder interface {
	Handle(ctx context.Context, from, body string) string
}

// Stats reports scheduler state for the health endpoint.
type Stats interface {
	Len() int
}

// Server is the webhook HTTP server.
type Server struct {
	cfg       Config
	responder Responder
	stats     Stats
	validator *client.RequestValidator
	server    *http.Server
	startedAt time.Time
	logger    *slog.Logger
}

// New creates a Server. stats may be nil.
func New(cfg Config, responder Responder, stats Stats, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = DefaultConfig().Address
	}
	s := &Server{
		cfg:       cfg,
		responder: responder,
		stats:     stats,
		startedAt: time.Now(),
		logger:    logger.With("component", "webhook"),
	}
	if cfg.AuthToken != "" {
		v := client.NewRequestValidator(cfg.AuthToken)
		s.validator = &v
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/whatsapp", s.handleMessage)
	r.Post("/", s.handleMessage)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}

	s.startedAt = time.Now()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if s.validator == nil {
		s.logger.Warn("twilio auth token not set, webhook signatures are not validated")
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webhook server error", "error", err)
		}
	}()
	s.logger.Info("webhook started", "address", ln.Addr().String())
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("webhook stopping")
	return s.server.Shutdown(ctx)
}

// ---------- Handlers ----------

type healthResponse struct {
	Status string `json:"status"`
	Armed  int    `json:"armed_reminders"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.stats != nil {
		resp.Armed = s.stats.Len()
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	if s.validator != nil && !s.validSignature(r) {
		s.logger.Warn("invalid twilio signature",
			"url", s.requestURL(r),
			"request_id", middleware.GetReqID(r.Context()),
		)
		if s.cfg.RejectInvalidSignature {
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimSpace(r.PostForm.Get("From"))
	if from == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}
	body := r.PostForm.Get("Body")

	reply := s.respond(r.Context(), from, body)
	s.writeTwiML(w, reply)
}

// respond runs the responder, turning a panic into an apology.
func (s *Server) respond(ctx context.Context, from, body string) (reply string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("responder panicked", "from", from, "panic", rec)
			reply = apology
		}
	}()
	return s.responder.Handle(ctx, from, body)
}

func (s *Server) writeTwiML(w http.ResponseWriter, reply string) {
	w.Header().Set("Content-Type", "application/xml")

	xml, err := twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: reply}})
	if err != nil {
		s.logger.Error("failed to render twiml", "error", err)
		xml = fallbackTwiML
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml))
}

func (s *Server) validSignature(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return s.validator.Validate(s.requestURL(r), params, r.Header.Get("X-Twilio-Signature"))
}

// requestURL reconstructs the URL Twilio signed, honouring proxy headers.
func (s *Server) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + r.URL.RequestURI()
	}

	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return proto + "://" + host + r.URL.RequestURI()
}
