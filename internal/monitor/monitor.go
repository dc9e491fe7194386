// Package monitor detects servers that stopped sending heartbeats.
package monitor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/broadcast"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// Defaults for Config.
const (
	DefaultCheckInterval = 30 * time.Second
	DefaultTimeout       = 5 * time.Minute
	DefaultInitialDelay  = 2 * time.Minute
)

// AlertEvaluator runs event-scoped alert evaluation.
type AlertEvaluator interface {
	EvaluateAlertsFor(ctx context.Context, event alerting.EventScope, types ...models.AlertType) (*alerting.EvaluationReport, error)
}

// Config configures a Monitor.
type Config struct {
	// Timeout is how long a server may stay silent before it is offline.
	Timeout time.Duration
	// InitialDelay is the grace period after start during which nothing is
	// marked offline. It is also the grace period of servers that never
	// sent a heartbeat.
	InitialDelay time.Duration
	Clock        func() time.Time
	Logger       logrus.FieldLogger
}

// Monitor marks unresponsive servers offline and evaluates ServerOffline
// alerts for them.
type Monitor struct {
	servers storage.ServerRepository
	alerts  AlertEvaluator
	events  broadcast.Broadcaster

	timeout      time.Duration
	initialDelay time.Duration
	clock        func() time.Time
	log          logrus.FieldLogger
	startedAt    time.Time
}

// New creates a Monitor. The initial delay counts from now.
func New(servers storage.ServerRepository, alerts AlertEvaluator, events broadcast.Broadcaster, cfg Config) *Monitor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	if events == nil {
		events = broadcast.Nop{}
	}
	return &Monitor{
		servers:      servers,
		alerts:       alerts,
		events:       events,
		timeout:      cfg.Timeout,
		initialDelay: cfg.InitialDelay,
		clock:        cfg.Clock,
		log:          cfg.Logger.WithField("component", "monitor"),
		startedAt:    cfg.Clock(),
	}
}

// CheckResult summarizes one health check.
type CheckResult struct {
	Unresponsive  int
	MarkedOffline []string
	Errors        []error
}

// Check runs one health check pass. Failures for one server do not stop
// the others.
func (m *Monitor) Check(ctx context.Context) (*CheckResult, error) {
	now := m.clock()
	res := &CheckResult{}
	if now.Before(m.startedAt.Add(m.initialDelay)) {
		return res, nil
	}
	metrics.MonitorChecksTotal.Inc()

	createdGrace := m.initialDelay
	if createdGrace <= 0 {
		createdGrace = m.timeout
	}
	servers, err := m.servers.ListUnresponsive(ctx, now.Add(-m.timeout), now.Add(-createdGrace))
	if err != nil {
		return nil, fmt.Errorf("list unresponsive servers: %w", err)
	}
	res.Unresponsive = len(servers)

	for _, s := range servers {
		if ctx.Err() != nil {
			break
		}
		if s.Status == models.ServerStatusOffline {
			continue
		}
		if err := m.markOffline(ctx, s, now); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.MarkedOffline = append(res.MarkedOffline, s.Name)
	}
	return res, nil
}

func (m *Monitor) markOffline(ctx context.Context, s *models.Server, now time.Time) error {
	log := m.log.WithFields(logrus.Fields{"server": s.Name, "previous_status": s.Status})

	changed, err := m.servers.CompareAndSetStatus(ctx, s.Name, s.Status, models.ServerStatusOffline, now)
	if err != nil {
		log.WithError(err).Error("failed to mark server offline")
		return fmt.Errorf("mark %s offline: %w", s.Name, err)
	}
	if !changed {
		log.Debug("server status changed concurrently, skipping")
		return nil
	}

	metrics.ServersOfflineTotal.Inc()
	log.WithField("last_heartbeat", s.LastHeartbeat).Warn("server marked offline")

	ev := broadcast.Event{
		Type:      broadcast.EventServerStatusChanged,
		Timestamp: now,
		Data: broadcast.ServerStatusChange{
			ServerName:     s.Name,
			PreviousStatus: s.Status,
			Status:         models.ServerStatusOffline,
			LastHeartbeat:  s.LastHeartbeat,
		},
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		log.WithError(err).Warn("failed to broadcast server status")
	}

	if m.alerts == nil {
		return nil
	}
	report, err := m.alerts.EvaluateAlertsFor(ctx, alerting.EventScope{ServerName: s.Name}, models.AlertTypeServerOffline)
	if err != nil {
		log.WithError(err).Error("failed to evaluate offline alerts")
		return fmt.Errorf("evaluate offline alerts for %s: %w", s.Name, err)
	}
	if err := report.Err(); err != nil {
		log.WithError(err).Error("offline alert evaluation failed")
		return fmt.Errorf("evaluate offline alerts for %s: %w", s.Name, err)
	}
	return nil
}
