package alerting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/lognexus/internal/broadcast"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// Notifier delivers a triggered instance to the alert's channels and
// reports one record per recipient.
type Notifier interface {
	Notify(ctx context.Context, alert *models.Alert, inst *models.AlertInstance) []models.NotificationRecord
}

// TriggerScope is the caller-supplied scope of a new instance.
type TriggerScope struct {
	JobID      string
	ServerName string
	Context    map[string]any
}

// TriggerConfig configures a TriggerService.
type TriggerConfig struct {
	// Workers bounds concurrent alert evaluations in one pass.
	Workers int
	// NotifyTimeout bounds one notification dispatch.
	NotifyTimeout time.Duration
	Clock         Clock
	Logger        logrus.FieldLogger
}

const (
	defaultWorkers       = 4
	defaultNotifyTimeout = 30 * time.Second
)

// TriggerService creates alert instances at most once per throttle window
// and hands them to notification dispatch.
type TriggerService struct {
	alerts    storage.AlertRepository
	instances storage.InstanceRepository
	eval      *Evaluator
	notifier  Notifier
	events    broadcast.Broadcaster

	workers       int
	notifyTimeout time.Duration
	clock         Clock
	log           logrus.FieldLogger

	locks *keyedMutex
	wg    sync.WaitGroup
}

// NewTriggerService creates a TriggerService. notifier and events may be nil.
func NewTriggerService(store storage.Storage, eval *Evaluator, notifier Notifier, events broadcast.Broadcaster, cfg TriggerConfig) *TriggerService {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	if events == nil {
		events = broadcast.Nop{}
	}
	return &TriggerService{
		alerts:        store.Alerts(),
		instances:     store.Instances(),
		eval:          eval,
		notifier:      notifier,
		events:        events,
		workers:       cfg.Workers,
		notifyTimeout: cfg.NotifyTimeout,
		clock:         cfg.Clock,
		log:           cfg.Logger.WithField("component", "trigger"),
		locks:         newKeyedMutex(),
	}
}

// TriggerAlert creates a New instance of the alert if its throttle window
// has elapsed. It returns nil without error when the alert is throttled,
// inactive, or another evaluator triggered it first.
func (s *TriggerService) TriggerAlert(ctx context.Context, alertID, message string, scope TriggerScope) (*models.AlertInstance, error) {
	unlock := s.locks.Lock(alertID)
	defer unlock()

	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	if alert == nil {
		return nil, fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}

	now := s.clock()
	log := s.log.WithFields(logrus.Fields{"alert_id": alert.ID, "alert_name": alert.Name})
	if !alert.IsActive {
		metrics.AlertTriggersSkipped.WithLabelValues("inactive").Inc()
		log.Debug("alert inactive, not triggering")
		return nil, nil
	}
	if !CanTrigger(alert, now) {
		metrics.AlertTriggersSkipped.WithLabelValues("throttled").Inc()
		log.WithField("next_trigger_at", NextTriggerAt(alert)).Debug("alert throttled")
		return nil, nil
	}

	inst := &models.AlertInstance{
		ID:          uuid.NewString(),
		AlertID:     alert.ID,
		AlertName:   alert.Name,
		TriggeredAt: now,
		Status:      models.InstanceNew,
		Severity:    alert.Severity,
		Message:     message,
		JobID:       scope.JobID,
		ServerName:  scope.ServerName,
		Context:     scope.Context,
	}

	// Once started, the write runs to completion or rolls back as a unit.
	err = s.alerts.RecordTrigger(context.WithoutCancel(ctx), inst, alert.LastTriggeredAt)
	if errors.Is(err, storage.ErrConflict) {
		metrics.AlertTriggersSkipped.WithLabelValues("conflict").Inc()
		log.Info("lost trigger race, instance not created")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record trigger: %w", err)
	}

	alert.LastTriggeredAt = &now
	alert.TriggerCount++
	metrics.AlertTriggersTotal.WithLabelValues(string(alert.Type()), string(alert.Severity)).Inc()
	log.WithFields(logrus.Fields{
		"instance_id":   inst.ID,
		"severity":      alert.Severity,
		"trigger_count": alert.TriggerCount,
	}).Info("alert triggered")

	if err := s.events.Publish(ctx, broadcast.InstanceEvent(broadcast.EventAlertTriggered, inst, now)); err != nil {
		log.WithError(err).Warn("failed to broadcast alert")
	}
	s.dispatch(ctx, alert, inst)
	return inst, nil
}

func (s *TriggerService) dispatch(ctx context.Context, alert *models.Alert, inst *models.AlertInstance) {
	if s.notifier == nil || alert.Notify.IsEmpty() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()

		log := s.log.WithFields(logrus.Fields{"alert_id": alert.ID, "instance_id": inst.ID})
		records := s.notifier.Notify(ctx, alert, inst)
		for _, r := range records {
			if !r.Success {
				log.WithFields(logrus.Fields{
					"channel":   r.Channel,
					"recipient": r.Recipient,
				}).Warnf("notification failed: %s", r.Error)
			}
		}
		if len(records) == 0 {
			return
		}
		if err := s.instances.AddNotifications(ctx, inst.ID, records); err != nil {
			log.WithError(err).Error("failed to record notifications")
		}
	}()
}

// Wait blocks until in-flight notification dispatches finish.
func (s *TriggerService) Wait() {
	s.wg.Wait()
}

// EvaluationReport summarizes one evaluation pass.
type EvaluationReport struct {
	Evaluated int
	Fired     int
	// Skipped counts alerts whose condition held but that did not produce
	// an instance because of the throttle or a lost race.
	Skipped   int
	Errors    []error
	Instances []*models.AlertInstance

	mu sync.Mutex
}

// Err joins the per-alert errors of the pass.
func (r *EvaluationReport) Err() error {
	return errors.Join(r.Errors...)
}

func (r *EvaluationReport) add(inst *models.AlertInstance, fired bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Evaluated++
	switch {
	case err != nil:
		r.Errors = append(r.Errors, err)
	case inst != nil:
		r.Fired++
		r.Instances = append(r.Instances, inst)
	case fired:
		r.Skipped++
	}
}

// EvaluateTriggerableAlerts evaluates every active alert whose throttle
// window has elapsed, never-triggered alerts first, and triggers those
// whose condition holds. A failing alert does not stop the pass.
func (s *TriggerService) EvaluateTriggerableAlerts(ctx context.Context) (*EvaluationReport, error) {
	start := time.Now()
	defer func() {
		metrics.AlertEvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	alerts, err := s.alerts.ListTriggerable(ctx, s.clock())
	if err != nil {
		return nil, fmt.Errorf("list triggerable alerts: %w", err)
	}
	report := s.evaluate(ctx, alerts, EventScope{})
	if len(report.Errors) > 0 || report.Fired > 0 {
		s.log.WithFields(logrus.Fields{
			"evaluated": report.Evaluated,
			"fired":     report.Fired,
			"skipped":   report.Skipped,
			"errors":    len(report.Errors),
		}).Info("evaluation pass complete")
	}
	return report, nil
}

// EvaluateAlertsFor evaluates the active alerts of the given types whose
// scope covers the event. No types means every type.
func (s *TriggerService) EvaluateAlertsFor(ctx context.Context, event EventScope, types ...models.AlertType) (*EvaluationReport, error) {
	alerts, err := s.alerts.ListActiveByType(ctx, types...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	now := s.clock()
	var candidates []*models.Alert
	for _, a := range alerts {
		if a.Scope.Matches(event.JobID, event.ServerName) && CanTrigger(a, now) {
			candidates = append(candidates, a)
		}
	}
	return s.evaluate(ctx, candidates, event), nil
}

func (s *TriggerService) evaluate(ctx context.Context, alerts []*models.Alert, event EventScope) *EvaluationReport {
	report := &EvaluationReport{}
	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, alert := range alerts {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			inst, fired, err := s.evaluateOne(ctx, alert, event)
			if err != nil {
				s.log.WithFields(logrus.Fields{
					"alert_id":   alert.ID,
					"alert_name": alert.Name,
					"type":       alert.Type(),
				}).WithError(err).Error("alert evaluation failed")
			}
			report.add(inst, fired, err)
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (s *TriggerService) evaluateOne(ctx context.Context, alert *models.Alert, event EventScope) (*models.AlertInstance, bool, error) {
	res, err := s.eval.Check(ctx, alert, event)
	if err != nil {
		return nil, false, err
	}
	if !res.ShouldFire {
		return nil, false, nil
	}
	inst, err := s.TriggerAlert(ctx, alert.ID, res.Message, TriggerScope{
		JobID:      res.JobID,
		ServerName: res.ServerName,
		Context:    res.Context,
	})
	if err != nil {
		return nil, true, fmt.Errorf("trigger alert %q: %w", alert.Name, err)
	}
	return inst, true, nil
}
