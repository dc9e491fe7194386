// Package notifier delivers triggered alert instances to the channels
// configured on their alert.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

// Channel names used in notification records.
const (
	ChannelEmail     = "email"
	ChannelWebhook   = "webhook"
	ChannelDashboard = "dashboard"
)

var (
	// ErrRateLimited is recorded when a delivery is dropped by the rate limiter.
	ErrRateLimited = errors.New("notification rate limited")
	// ErrChannelDisabled is recorded when an alert targets an unconfigured channel.
	ErrChannelDisabled = errors.New("channel not configured")
)

// Message is the content of one instance notification.
type Message struct {
	AlertID     string
	AlertName   string
	Description string
	Type        models.AlertType
	InstanceID  string
	Severity    models.Severity
	Text        string
	TriggeredAt time.Time
	JobID       string
	ServerName  string
	Context     map[string]any
}

// NewMessage builds the message for a triggered instance.
func NewMessage(alert *models.Alert, inst *models.AlertInstance) *Message {
	return &Message{
		AlertID:     alert.ID,
		AlertName:   alert.Name,
		Description: alert.Description,
		Type:        alert.Type(),
		InstanceID:  inst.ID,
		Severity:    inst.Severity,
		Text:        inst.Message,
		TriggeredAt: inst.TriggeredAt,
		JobID:       inst.JobID,
		ServerName:  inst.ServerName,
		Context:     inst.Context,
	}
}

// EmailSender delivers a message to one mailbox.
type EmailSender interface {
	SendEmail(ctx context.Context, to string, msg *Message) error
}

// WebhookSender delivers a message to one webhook URL.
type WebhookSender interface {
	SendWebhook(ctx context.Context, url string, msg *Message) error
}

// Config configures a Dispatcher.
type Config struct {
	// Email is nil when no SMTP server is configured.
	Email     EmailSender
	Webhook   WebhookSender
	RateLimit RateLimitConfig
	Clock     func() time.Time
	Logger    logrus.FieldLogger
}

// Dispatcher fans an instance out to every recipient of its alert and
// reports one record per recipient.
type Dispatcher struct {
	email   EmailSender
	webhook WebhookSender
	limiter *RateLimiter
	clock   func() time.Time
	log     logrus.FieldLogger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	return &Dispatcher{
		email:   cfg.Email,
		webhook: cfg.Webhook,
		limiter: NewRateLimiter(cfg.RateLimit),
		clock:   cfg.Clock,
		log:     cfg.Logger.WithField("component", "notifier"),
	}
}

type target struct {
	channel   string
	recipient string
}

func targets(n models.NotifyConfig) []target {
	out := make([]target, 0, len(n.Emails)+len(n.Webhooks)+1)
	for _, e := range n.Emails {
		out = append(out, target{ChannelEmail, e})
	}
	if n.Dashboard {
		out = append(out, target{ChannelDashboard, ChannelDashboard})
	}
	for _, u := range n.Webhooks {
		out = append(out, target{ChannelWebhook, u})
	}
	return out
}

// Notify delivers inst to every configured recipient concurrently. It never
// fails as a whole; each failure is reported in its record.
func (d *Dispatcher) Notify(ctx context.Context, alert *models.Alert, inst *models.AlertInstance) []models.NotificationRecord {
	ts := targets(alert.Notify)
	if len(ts) == 0 {
		return nil
	}
	msg := NewMessage(alert, inst)
	records := make([]models.NotificationRecord, len(ts))

	var g errgroup.Group
	for i, t := range ts {
		g.Go(func() error {
			err := d.deliver(ctx, t, msg)
			rec := models.NotificationRecord{
				Channel:   t.channel,
				Recipient: t.recipient,
				Success:   err == nil,
				SentAt:    d.clock(),
			}
			result := "success"
			if err != nil {
				rec.Error = err.Error()
				result = "failure"
				if errors.Is(err, ErrRateLimited) {
					result = "rate_limited"
				}
			}
			metrics.NotificationsTotal.WithLabelValues(t.channel, result).Inc()
			records[i] = rec
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func (d *Dispatcher) deliver(ctx context.Context, t target, msg *Message) error {
	// Dashboard delivery is the broadcast event itself.
	if t.channel == ChannelDashboard {
		return nil
	}
	if !d.limiter.Allow() {
		return ErrRateLimited
	}

	var err error
	switch t.channel {
	case ChannelEmail:
		if d.email == nil {
			return fmt.Errorf("email: %w", ErrChannelDisabled)
		}
		err = d.email.SendEmail(ctx, t.recipient, msg)
	case ChannelWebhook:
		if d.webhook == nil {
			return fmt.Errorf("webhook: %w", ErrChannelDisabled)
		}
		err = d.webhook.SendWebhook(ctx, t.recipient, msg)
	default:
		err = fmt.Errorf("unknown channel %q", t.channel)
	}
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"channel":     t.channel,
			"instance_id": msg.InstanceID,
		}).WithError(err).Debug("delivery failed")
	}
	return err
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	return d.limiter.Stats()
}
