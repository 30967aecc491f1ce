package mailqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/MrEthical07/tierauth/logging"
	"github.com/hibiken/asynq"
)

// Message is a rendered mail ready for a transport.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Delivery sends a rendered message. A returned error makes asynq retry the
// task.
type Delivery interface {
	Deliver(ctx context.Context, msg Message) error
}

// DeliveryFunc adapts a function to Delivery.
type DeliveryFunc func(ctx context.Context, msg Message) error

func (f DeliveryFunc) Deliver(ctx context.Context, msg Message) error { return f(ctx, msg) }

// WorkerConfig configures NewServeMux.
type WorkerConfig struct {
	// VerifyURL is the page that accepts ?token=. Required.
	VerifyURL string
	// Product names the service in subjects.
	Product string
	Logger  *slog.Logger
}

type worker struct {
	cfg      WorkerConfig
	delivery Delivery
	logger   *slog.Logger
}

// NewServeMux returns an asynq mux with a handler for every mail task type.
func NewServeMux(cfg WorkerConfig, delivery Delivery) (*asynq.ServeMux, error) {
	if delivery == nil {
		return nil, fmt.Errorf("mailqueue: delivery is required")
	}
	if _, err := url.ParseRequestURI(cfg.VerifyURL); err != nil {
		return nil, fmt.Errorf("mailqueue: invalid VerifyURL: %w", err)
	}
	if cfg.Product == "" {
		cfg.Product = "tierauth"
	}

	w := &worker{
		cfg:      cfg,
		delivery: delivery,
		logger:   logging.Component(cfg.Logger, "mailqueue"),
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeVerificationEmail, w.handleVerification)
	mux.HandleFunc(TypeTwoFactorEnabled, w.handleTwoFactorEnabled)
	mux.HandleFunc(TypeSubscription, w.handleSubscription)
	return mux, nil
}

// decode rejects malformed payloads with asynq.SkipRetry; retrying them
// cannot succeed.
func decode(t *asynq.Task, dst any) error {
	if err := json.Unmarshal(t.Payload(), dst); err != nil {
		return fmt.Errorf("unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func (w *worker) send(ctx context.Context, taskType string, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("%s: empty recipient: %w", taskType, asynq.SkipRetry)
	}
	if err := w.delivery.Deliver(ctx, msg); err != nil {
		w.logger.Warn("mail delivery failed", "op", taskType, "error", err)
		return fmt.Errorf("deliver %s: %w", taskType, err)
	}
	w.logger.Info("mail delivered", "op", taskType)
	return nil
}

func (w *worker) handleVerification(ctx context.Context, t *asynq.Task) error {
	var p VerificationPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	link := w.cfg.VerifyURL + "?token=" + url.QueryEscape(p.Token)
	return w.send(ctx, t.Type(), Message{
		To:      p.Email,
		Subject: "Verify your email - " + w.cfg.Product,
		Body: fmt.Sprintf("Hi %s,\n\nPlease verify your email address to activate your account:\n\n%s\n\n"+
			"If you didn't create this account, please ignore this email.\n", p.Username, link),
	})
}

func (w *worker) handleTwoFactorEnabled(ctx context.Context, t *asynq.Task) error {
	var p TwoFactorEnabledPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	return w.send(ctx, t.Type(), Message{
		To:      p.Email,
		Subject: "Two-factor authentication enabled",
		Body: fmt.Sprintf("Hi %s,\n\nTwo-factor authentication is now enabled on your account. "+
			"Keep your backup codes somewhere safe.\n\nIf you didn't do this, contact support immediately.\n", p.Username),
	})
}

func (w *worker) handleSubscription(ctx context.Context, t *asynq.Task) error {
	var p SubscriptionPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	return w.send(ctx, t.Type(), Message{
		To:      p.Email,
		Subject: "Subscription confirmed - " + p.PlanName,
		Body: fmt.Sprintf("Hi %s,\n\nYour subscription to %s is active.\n\nPlan: %s\nPrice: %s/month\n",
			p.Username, p.PlanName, p.PlanName, FormatCents(p.PriceCents)),
	})
}

// FormatCents renders an amount in cents as dollars, e.g. 2999 -> "$29.99".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
